// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for database operation metrics
func (p *PostgreSQLStorage) SetMetricsManager(manager *metrics.Manager) {
	p.metricsManager = manager
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// DB returns the shared pooled database handle
func (p *PostgreSQLStorage) DB() *sql.DB {
	return p.db
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting database migrations")

	for _, migration := range p.migrations {
		p.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				"Migration "+migration.Version+" failed",
				err.Error())
		}
	}

	p.logger.Info("Database migrations completed")
	return nil
}

// SaveModule inserts or updates a catalog entry
func (p *PostgreSQLStorage) SaveModule(ctx context.Context, module *models.Module) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			installed = EXCLUDED.installed,
			manifest = EXCLUDED.manifest,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		module.ID, enabledValue(module.Enabled), module.Installed,
		manifestJSON, configJSON, module.CreatedAt, module.UpdatedAt)

	p.recordDBOperation("upsert", "modules", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save module", err.Error())
	}

	return nil
}

// GetModule returns a catalog entry, or nil when absent
func (p *PostgreSQLStorage) GetModule(ctx context.Context, id string) (*models.Module, error) {
	query := `
		SELECT id, enabled, installed, manifest, config, created_at, updated_at
		FROM modules WHERE id = $1
	`

	module, err := scanModule(p.db.QueryRowContext(ctx, query, id))
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
func (p *PostgreSQLStorage) GetModules(ctx context.Context, includeDisabled bool) ([]*models.Module, error) {
	query := `
		SELECT id, enabled, installed, manifest, config, created_at, updated_at
		FROM modules
	`
	if !includeDisabled {
		query += " WHERE COALESCE(enabled, TRUE)"
	}
	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query)
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
func (p *PostgreSQLStorage) SetModuleEnabled(ctx context.Context, id string, enabled bool) (*models.Module, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO modules (id, enabled, installed, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := p.db.ExecContext(ctx, query, id, enabled, now, now); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to set module enabled flag", err.Error())
	}

	return p.GetModule(ctx, id)
}

// SetModuleInstalled updates the installed flag of an existing entry
func (p *PostgreSQLStorage) SetModuleInstalled(ctx context.Context, id string, installed bool) error {
	query := `UPDATE modules SET installed = $1, updated_at = $2 WHERE id = $3`

	result, err := p.db.ExecContext(ctx, query, installed, time.Now().UTC(), id)
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
func (p *PostgreSQLStorage) DeleteModule(ctx context.Context, id string) error {
	start := time.Now()

	_, err := p.db.ExecContext(ctx, `DELETE FROM modules WHERE id = $1`, id)

	p.recordDBOperation("delete", "modules", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete module", err.Error())
	}

	return nil
}

// AppendMigrationLog appends a migration attempt record
func (p *PostgreSQLStorage) AppendMigrationLog(ctx context.Context, entry *models.MigrationLogEntry) error {
	start := time.Now()

	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO modules_migrations (module_id, migration, success, applied_at, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := p.db.QueryRowContext(ctx, query,
		entry.ModuleID, entry.Migration, entry.Success, entry.AppliedAt, entry.Error).Scan(&entry.ID)

	p.recordDBOperation("insert", "modules_migrations", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append migration log entry", err.Error())
	}

	return nil
}

// GetMigrationLog queries the migration log, most recent first
func (p *PostgreSQLStorage) GetMigrationLog(ctx context.Context, filter models.MigrationLogFilter) ([]*models.MigrationLogEntry, error) {
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
		query += " WHERE module_id = $1"
		args = append(args, *filter.ModuleID)
		query += " ORDER BY applied_at DESC, id DESC LIMIT $2"
	} else {
		query += " ORDER BY applied_at DESC, id DESC LIMIT $1"
	}
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	row := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN COALESCE(enabled, TRUE) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN installed THEN 1 ELSE 0 END), 0)
		FROM modules
	`)
	if err := row.Scan(&stats.TotalModules, &stats.EnabledModules, &stats.InstalledModules); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get module stats", err.Error())
	}

	row = p.db.QueryRowContext(ctx, `
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

func (p *PostgreSQLStorage) recordDBOperation(operation, table string, err error, start time.Time) {
	if p.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	p.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation, table, status, time.Since(start))
}
