// File: internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/models"
)

// DefaultMigrationLogLimit caps unfiltered migration log queries
const DefaultMigrationLogLimit = 100

// Storage defines the interface for module catalog and migration log persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// DB exposes the shared pooled handle for module lifecycle routines
	DB() *sql.DB

	// Catalog operations
	SaveModule(ctx context.Context, module *models.Module) error
	GetModule(ctx context.Context, id string) (*models.Module, error)
	GetModules(ctx context.Context, includeDisabled bool) ([]*models.Module, error)
	SetModuleEnabled(ctx context.Context, id string, enabled bool) (*models.Module, error)
	SetModuleInstalled(ctx context.Context, id string, installed bool) error
	DeleteModule(ctx context.Context, id string) error

	// Migration log operations (append-only)
	AppendMigrationLog(ctx context.Context, entry *models.MigrationLogEntry) error
	GetMigrationLog(ctx context.Context, filter models.MigrationLogFilter) ([]*models.MigrationLogEntry, error)

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)

	SetMetricsManager(manager *metrics.Manager)
}

// StorageStats provides catalog statistics
type StorageStats struct {
	TotalModules      int64      `json:"total_modules"`
	EnabledModules    int64      `json:"enabled_modules"`
	InstalledModules  int64      `json:"installed_modules"`
	MigrationAttempts int64      `json:"migration_attempts"`
	FailedMigrations  int64      `json:"failed_migrations"`
	LatestMigration   *time.Time `json:"latest_migration,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
