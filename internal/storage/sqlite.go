// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for database operation metrics
func (s *SQLiteStorage) SetMetricsManager(manager *metrics.Manager) {
	s.metricsManager = manager
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.Info("SQLite database connected", "path", s.config.ConnectionString)

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// DB returns the shared pooled database handle
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				"Migration "+migration.Version+" failed",
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveModule inserts or updates a catalog entry
func (s *SQLiteStorage) SaveModule(ctx context.Context, module *models.Module) error {
	start := time.Now()

	manifestJSON, configJSON, err := marshalModuleBlobs(module)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now

	query := `
		INSERT INTO modules (id, enabled, installed, manifest, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			installed = excluded.installed,
			manifest = excluded.manifest,
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		module.ID, enabledValue(module.Enabled), module.Installed,
		manifestJSON, configJSON, module.CreatedAt, module.UpdatedAt)

	s.recordDBOperation("upsert", "modules", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save module", err.Error())
	}

	return nil
}

// GetModule returns a catalog entry, or nil when absent
func (s *SQLiteStorage) GetModule(ctx context.Context, id string) (*models.Module, error) {
	query := `
		SELECT id, enabled, installed, manifest, config, created_at, updated_at
		FROM modules WHERE id = ?
	`

	module, err := scanModule(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get module", err.Error())
	}

	return module, nil
}

// GetModules lists catalog entries. Entries with a NULL enabled flag count
// as enabled.
func (s *SQLiteStorage) GetModules(ctx context.Context, includeDisabled bool) ([]*models.Module, error) {
	query := `
		SELECT id, enabled, installed, manifest, config, created_at, updated_at
		FROM modules
	`
	if !includeDisabled {
		query += " WHERE COALESCE(enabled, 1) = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query modules", err.Error())
	}
	defer rows.Close()

	var modules []*models.Module
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan module", err.Error())
		}
		modules = append(modules, module)
	}

	return modules, rows.Err()
}

// SetModuleEnabled toggles the enabled flag, creating the row when the
// module is not yet catalogued, and returns the mutated entry
func (s *SQLiteStorage) SetModuleEnabled(ctx context.Context, id string, enabled bool) (*models.Module, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO modules (id, enabled, installed, created_at, updated_at)
		VALUES (?, ?, FALSE, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, id, enabled, now, now); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to set module enabled flag", err.Error())
	}

	return s.GetModule(ctx, id)
}

// SetModuleInstalled updates the installed flag of an existing entry
func (s *SQLiteStorage) SetModuleInstalled(ctx context.Context, id string, installed bool) error {
	query := `UPDATE modules SET installed = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, installed, time.Now().UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set module installed flag", err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read rows affected", err.Error())
	}
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Module not found", id)
	}

	return nil
}

// DeleteModule removes a catalog entry. Migration log rows are retained
// as historical audit data.
func (s *SQLiteStorage) DeleteModule(ctx context.Context, id string) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE id = ?`, id)

	s.recordDBOperation("delete", "modules", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete module", err.Error())
	}

	return nil
}

// AppendMigrationLog appends a migration attempt record
func (s *SQLiteStorage) AppendMigrationLog(ctx context.Context, entry *models.MigrationLogEntry) error {
	start := time.Now()

	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO modules_migrations (module_id, migration, success, applied_at, error)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.ModuleID, entry.Migration, entry.Success, entry.AppliedAt, entry.Error)

	s.recordDBOperation("insert", "modules_migrations", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append migration log entry", err.Error())
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}

	return nil
}

// GetMigrationLog queries the migration log, most recent first
func (s *SQLiteStorage) GetMigrationLog(ctx context.Context, filter models.MigrationLogFilter) ([]*models.MigrationLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultMigrationLogLimit
	}
	if filter.ModuleID == nil && limit > DefaultMigrationLogLimit {
		limit = DefaultMigrationLogLimit
	}

	query := `
		SELECT id, module_id, migration, success, applied_at, error
		FROM modules_migrations
	`
	args := []interface{}{}
	if filter.ModuleID != nil {
		query += " WHERE module_id = ?"
		args = append(args, *filter.ModuleID)
	}
	query += " ORDER BY applied_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query migration log", err.Error())
	}
	defer rows.Close()

	var entries []*models.MigrationLogEntry
	for rows.Next() {
		entry := &models.MigrationLogEntry{}
		var errText sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ModuleID, &entry.Migration,
			&entry.Success, &entry.AppliedAt, &errText); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration log entry", err.Error())
		}
		if errText.Valid {
			entry.Error = &errText.String
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetStats returns catalog statistics
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN COALESCE(enabled, 1) = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN installed THEN 1 ELSE 0 END), 0)
		FROM modules
	`)
	if err := row.Scan(&stats.TotalModules, &stats.EnabledModules, &stats.InstalledModules); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get module stats", err.Error())
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
			MAX(applied_at)
		FROM modules_migrations
	`)
	var latest sql.NullTime
	if err := row.Scan(&stats.MigrationAttempts, &stats.FailedMigrations, &latest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get migration stats", err.Error())
	}
	if latest.Valid {
		stats.LatestMigration = &latest.Time
	}

	return stats, nil
}

func (s *SQLiteStorage) recordDBOperation(operation, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation, table, status, time.Since(start))
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanModule
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModule(row rowScanner) (*models.Module, error) {
	module := &models.Module{}
	var enabled sql.NullBool
	var manifestJSON, configJSON sql.NullString

	if err := row.Scan(&module.ID, &enabled, &module.Installed,
		&manifestJSON, &configJSON, &module.CreatedAt, &module.UpdatedAt); err != nil {
		return nil, err
	}

	if enabled.Valid {
		module.Enabled = &enabled.Bool
	}
	if manifestJSON.Valid && manifestJSON.String != "" {
		manifest := &models.Manifest{}
		if err := json.Unmarshal([]byte(manifestJSON.String), manifest); err != nil {
			return nil, err
		}
		module.Manifest = manifest
	}
	if configJSON.Valid && configJSON.String != "" {
		module.Config = json.RawMessage(configJSON.String)
	}

	return module, nil
}

func marshalModuleBlobs(module *models.Module) (manifestJSON, configJSON interface{}, err error) {
	if module.Manifest != nil {
		data, err := json.Marshal(module.Manifest)
		if err != nil {
			return nil, nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal manifest", err.Error())
		}
		manifestJSON = string(data)
	}
	if len(module.Config) > 0 {
		configJSON = string(module.Config)
	}
	return manifestJSON, configJSON, nil
}

func enabledValue(enabled *bool) interface{} {
	if enabled == nil {
		return nil
	}
	return *enabled
}
