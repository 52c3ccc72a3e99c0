// File: cmd/moduled/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halcyonweb/module-runtime/internal/catalog"
	"github.com/halcyonweb/module-runtime/internal/config"
	"github.com/halcyonweb/module-runtime/internal/discovery"
	"github.com/halcyonweb/module-runtime/internal/dispatch"
	"github.com/halcyonweb/module-runtime/internal/lifecycle"
	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/notify"
	"github.com/halcyonweb/module-runtime/internal/render"
	"github.com/halcyonweb/module-runtime/internal/server"
	"github.com/halcyonweb/module-runtime/internal/storage"
	"github.com/halcyonweb/module-runtime/pkg/utils"

	// Built-in modules register their handlers and lifecycle hooks
	"github.com/halcyonweb/module-runtime/modules/guestbook"
	_ "github.com/halcyonweb/module-runtime/modules/assistant"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config         *config.Config
	storage        storage.Storage
	catalog        *catalog.Catalog
	lifecycle      *lifecycle.Manager
	dispatcher     *dispatch.Dispatcher
	renderer       *render.Renderer
	scanner        *discovery.Scanner
	watcher        *discovery.Watcher
	notifier       *notify.Notifier
	metricsManager *metrics.Manager
	server         *server.HTTPServer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing application components")

	if app.config.Server.EnableMetrics {
		app.metricsManager = metrics.NewManager()
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.notifier = notify.NewNotifier(&app.config.Notifications)
	app.catalog = catalog.New(app.storage)
	app.lifecycle = lifecycle.NewManager(app.storage, app.config.Modules.Dir, app.notifier, app.metricsManager)
	app.dispatcher = dispatch.NewDispatcher(app.metricsManager)
	app.renderer = render.NewRenderer(render.DefaultWhitelist())
	app.scanner = discovery.NewScanner(app.config.Modules.Dir)

	if app.config.Modules.WatchEnabled {
		app.watcher = discovery.NewWatcher(app.scanner, app.config.Modules.WatchInterval, app.metricsManager)
	}

	// Built-in modules needing the shared pool
	guestbook.Configure(app.storage.DB())

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	logger := utils.GetLogger()
	logger.Info("Initializing storage layer")

	if err := storage.ValidateStorageConfig(&app.config.Storage); err != nil {
		return err
	}

	var err error
	app.storage, err = storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if app.metricsManager != nil {
		app.storage.SetMetricsManager(app.metricsManager)
	}

	// Connect to storage
	if err := app.storage.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	// Run migrations
	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	var err error
	app.server, err = server.NewHTTPServer(
		&app.config.Server,
		app.storage,
		app.catalog,
		app.lifecycle,
		app.dispatcher,
		app.renderer,
		app.scanner,
		app.watcher,
		app.metricsManager,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting module runtime")

	if app.watcher != nil {
		app.watcher.Start(app.ctx)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"modules_dir":    app.config.Modules.Dir,
	}).Info("Module runtime started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping module runtime")

	app.cancel()

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.watcher != nil {
		app.watcher.Stop()
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			logger.WithError(err).Error("Failed to close storage")
		}
	}

	logger.Info("Module runtime stopped successfully")
	return nil
}

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "moduled",
	Short: "Personal-site module runtime",
	Long:  "Runtime for discovering, installing and dispatching personal-site extension modules",
	RunE:  runServer,
}

// runServer is the main command to run the module runtime
func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	// Stop application
	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Module Runtime %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Modules directory: %s\n", cfg.Modules.Dir)

		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
