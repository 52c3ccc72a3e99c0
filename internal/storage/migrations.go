package storage

import (
	"time"
)

// Migration represents a host schema migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create modules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules (
					id TEXT PRIMARY KEY,
					enabled BOOLEAN DEFAULT TRUE,
					installed BOOLEAN NOT NULL DEFAULT FALSE,
					manifest TEXT, -- JSON
					config TEXT, -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_modules_enabled ON modules(enabled);
				CREATE INDEX IF NOT EXISTS idx_modules_installed ON modules(installed);
			`,
		},
		{
			Version:     "002",
			Description: "Create modules_migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules_migrations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					module_id TEXT NOT NULL,
					migration TEXT NOT NULL,
					success BOOLEAN,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_modules_migrations_module_id ON modules_migrations(module_id);
				CREATE INDEX IF NOT EXISTS idx_modules_migrations_applied_at ON modules_migrations(applied_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create modules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules (
					id TEXT PRIMARY KEY,
					enabled BOOLEAN DEFAULT TRUE,
					installed BOOLEAN NOT NULL DEFAULT FALSE,
					manifest JSONB,
					config JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_modules_enabled ON modules(enabled);
				CREATE INDEX IF NOT EXISTS idx_modules_installed ON modules(installed);
			`,
		},
		{
			Version:     "002",
			Description: "Create modules_migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules_migrations (
					id SERIAL PRIMARY KEY,
					module_id TEXT NOT NULL,
					migration TEXT NOT NULL,
					success BOOLEAN,
					applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_modules_migrations_module_id ON modules_migrations(module_id);
				CREATE INDEX IF NOT EXISTS idx_modules_migrations_applied_at ON modules_migrations(applied_at);
			`,
		},
	}
}
