// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/catalog"
	"github.com/halcyonweb/module-runtime/internal/config"
	"github.com/halcyonweb/module-runtime/internal/discovery"
	"github.com/halcyonweb/module-runtime/internal/dispatch"
	"github.com/halcyonweb/module-runtime/internal/lifecycle"
	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/internal/registry"
	"github.com/halcyonweb/module-runtime/internal/render"
	"github.com/halcyonweb/module-runtime/internal/storage"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	catalog        *catalog.Catalog
	lifecycle      *lifecycle.Manager
	dispatcher     *dispatch.Dispatcher
	renderer       *render.Renderer
	scanner        *discovery.Scanner
	watcher        *discovery.Watcher
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	cat *catalog.Catalog,
	lm *lifecycle.Manager,
	dispatcher *dispatch.Dispatcher,
	renderer *render.Renderer,
	scanner *discovery.Scanner,
	watcher *discovery.Watcher,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         cfg,
		storage:        store,
		catalog:        cat,
		lifecycle:      lm,
		dispatcher:     dispatcher,
		renderer:       renderer,
		scanner:        scanner,
		watcher:        watcher,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// Router exposes the configured router, mainly for tests
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Catalog endpoints
	api.HandleFunc("/modules", s.listModulesHandler).Methods("GET")
	api.HandleFunc("/modules/discover", s.discoverModulesHandler).Methods("GET")
	api.HandleFunc("/modules/floating", s.floatingModulesHandler).Methods("GET")
	api.HandleFunc("/modules/migrations", s.migrationLogHandler).Methods("GET")

	// Admin mutations
	api.HandleFunc("/modules/{id}/enable", s.enableModuleHandler).Methods("POST")
	api.HandleFunc("/modules/{id}/delete", s.deleteModuleHandler).Methods("POST")
	api.HandleFunc("/modules/{id}/install", s.installModuleHandler).Methods("POST")
	api.HandleFunc("/modules/{id}/uninstall", s.uninstallModuleHandler).Methods("POST")

	// Module dispatch: a module only ever sees its own path prefix
	s.router.HandleFunc("/modules/{id}", s.moduleDispatchHandler)
	s.router.HandleFunc("/modules/{id}/{rest:.*}", s.moduleDispatchHandler)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	})

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", map[string]interface{}{"error": err})
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
		s.updateCatalogGauges()
	}
}

func (s *HTTPServer) updateComponentHealth() {
	if s.storage != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
}

func (s *HTTPServer) updateCatalogGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := s.storage.GetStats(ctx)
	if err != nil {
		return
	}
	s.metricsManager.GetPrometheusMetrics().UpdateModuleCounts(
		int(stats.TotalModules), int(stats.EnabledModules))
}

// Module dispatch

// moduleDispatchHandler forwards a request to the addressed module's
// registered handler. The catalog gate stays here: the dispatcher itself
// never inspects the catalog.
func (s *HTTPServer) moduleDispatchHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	module, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, appErrorStatus(err), "Invalid module id", err)
		return
	}
	if module != nil && !module.IsEnabled() {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("module %q is disabled", id), nil)
		return
	}

	var subpath []string
	if rest := vars["rest"]; rest != "" {
		subpath = strings.Split(strings.Trim(rest, "/"), "/")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	result := s.dispatcher.Dispatch(r.Context(), id, &registry.Request{
		Method:     r.Method,
		Subpath:    subpath,
		Query:      r.URL.Query(),
		Header:     r.Header,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
	})

	if result.Raw != nil {
		contentType := result.Raw.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(result.Status)
		w.Write(result.Raw.Body)
		return
	}

	s.writeJSON(w, result.Status, result.Body)
}

// Catalog Handlers

// listModulesHandler lists catalogued modules
func (s *HTTPServer) listModulesHandler(w http.ResponseWriter, r *http.Request) {
	includeDisabled, _ := strconv.ParseBool(r.URL.Query().Get("include_disabled"))

	modules, err := s.catalog.List(r.Context(), includeDisabled)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list modules", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"modules": modules,
		"total":   len(modules),
	})
}

// discoverModulesHandler scans the modules directory and cross-references
// the catalog
func (s *HTTPServer) discoverModulesHandler(w http.ResponseWriter, r *http.Request) {
	discovered, err := s.scanner.Scan()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Module discovery failed", err)
		return
	}

	catalogued, err := s.catalog.List(r.Context(), true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list modules", err)
		return
	}

	known := make(map[string]bool, len(catalogued))
	for _, m := range catalogued {
		known[m.ID] = true
	}
	for i := range discovered {
		discovered[i].Catalogued = known[discovered[i].ID]
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"modules": discovered,
		"total":   len(discovered),
	})
}

// floatingModulesHandler returns rendered fragments of enabled modules
// declaring a floating block, for client-side widget mounting
func (s *HTTPServer) floatingModulesHandler(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.catalog.Floating(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query floating modules", err)
		return
	}

	type floatingFragment struct {
		ModuleID string          `json:"module_id"`
		Fragment render.Fragment `json:"fragment"`
	}

	fragments := make([]floatingFragment, 0, len(blocks))
	for _, b := range blocks {
		fragment, ok := s.renderer.RenderBlock(b.Block)
		if !ok {
			// Not whitelisted: the block contributes nothing
			continue
		}
		fragments = append(fragments, floatingFragment{ModuleID: b.ModuleID, Fragment: fragment})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"fragments": fragments,
		"total":     len(fragments),
	})
}

// migrationLogHandler lists migration log rows, most recent first
func (s *HTTPServer) migrationLogHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.MigrationLogFilter{}

	if moduleID := r.URL.Query().Get("module_id"); moduleID != "" {
		filter.ModuleID = &moduleID
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	entries, err := s.storage.GetMigrationLog(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query migration log", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"entries": entries,
		"total":   len(entries),
	})
}

// Admin Handlers

// enableModuleHandler toggles a module's enabled flag
func (s *HTTPServer) enableModuleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "enabled value is required", nil)
		return
	}

	module, err := s.catalog.SetEnabled(r.Context(), id, *body.Enabled)
	if err != nil {
		s.writeError(w, appErrorStatus(err), "Failed to update module", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"module": module,
	})
}

// deleteModuleHandler removes a module from the catalog
func (s *HTTPServer) deleteModuleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := s.catalog.Delete(r.Context(), id); err != nil {
		s.writeError(w, appErrorStatus(err), "Failed to delete module", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"id": id,
	})
}

// installModuleHandler runs a module's install routine
func (s *HTTPServer) installModuleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := s.lifecycle.Install(r.Context(), id); err != nil {
		s.writeError(w, appErrorStatus(err), "Module install failed", err)
		return
	}

	module, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load module", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"module": module,
	})
}

// uninstallModuleHandler runs a module's uninstall routine
func (s *HTTPServer) uninstallModuleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := s.lifecycle.Uninstall(r.Context(), id); err != nil {
		s.writeError(w, appErrorStatus(err), "Module uninstall failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"id": id,
	})
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := s.storage.Ping(); err != nil {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              true,
		"status":          status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"metrics_enabled": s.config.EnableMetrics,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"ok":        true,
		"timestamp": time.Now(),
		"storage":   storageStats,
		"registry":  registry.List(),
	}
	if s.watcher != nil {
		stats["watcher"] = s.watcher.Stats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Response helpers

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err})
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, cause error) {
	body := map[string]interface{}{
		"ok":    false,
		"error": message,
	}
	if cause != nil {
		body["error"] = cause.Error()
		if appErr, ok := cause.(*utils.AppError); ok {
			body["code"] = appErr.Code
		}
	}

	s.writeJSON(w, status, body)
}

// appErrorStatus maps application error codes to HTTP status codes
func appErrorStatus(err error) int {
	appErr, ok := err.(*utils.AppError)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case utils.ErrCodeValidation, utils.ErrCodeManifest:
		return http.StatusBadRequest
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
