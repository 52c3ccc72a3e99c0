package models

import (
	"time"
)

// MigrationLogEntry is one immutable row of the module migration audit trail
type MigrationLogEntry struct {
	ID        int64     `json:"id" db:"id"`
	ModuleID  string    `json:"module_id" db:"module_id"`
	Migration string    `json:"migration" db:"migration"`
	Success   bool      `json:"success" db:"success"`
	AppliedAt time.Time `json:"applied_at" db:"applied_at"`
	Error     *string   `json:"error,omitempty" db:"error"`
}

// MigrationLogFilter for querying the migration log
type MigrationLogFilter struct {
	ModuleID *string `json:"module_id,omitempty"`
	Limit    int     `json:"limit,omitempty"`
}
