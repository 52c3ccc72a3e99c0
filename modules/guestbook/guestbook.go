// Package guestbook is a built-in module with its own schema: visitors
// leave entries, the module owns the table through install/uninstall.
package guestbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonweb/module-runtime/internal/registry"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// ID is the module identifier
const ID = "guestbook"

var (
	mu sync.RWMutex
	db *sql.DB
)

// Configure hands the module the shared pooled connection. Called once
// during application wiring, before the server accepts traffic.
func Configure(handle *sql.DB) {
	mu.Lock()
	db = handle
	mu.Unlock()
}

func database() (*sql.DB, error) {
	mu.RLock()
	defer mu.RUnlock()
	if db == nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "guestbook module not configured", "")
	}
	return db, nil
}

// Entry is one guestbook entry
type Entry struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func init() {
	registry.RegisterLifecycle(ID, &registry.Lifecycle{
		Install:   install,
		Uninstall: uninstall,
	})

	registry.RegisterRoutes(ID, &registry.Routes{
		Methods: map[string]registry.HandlerFunc{
			http.MethodGet:  handleList,
			http.MethodPost: handleCreate,
		},
	})
}

// install creates the module's schema with idempotent guards, so a retry
// after a partial failure is safe
func install(ctx context.Context, handle *sql.DB) error {
	_, err := handle.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS module_guestbook_entries (
			id TEXT PRIMARY KEY,
			author TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// uninstall drops the module's schema inside the host-owned transaction
func uninstall(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS module_guestbook_entries`)
	return err
}

func handleList(ctx context.Context, req *registry.Request) (interface{}, error) {
	handle, err := database()
	if err != nil {
		return nil, err
	}

	rows, err := handle.QueryContext(ctx, `
		SELECT id, author, message, created_at
		FROM module_guestbook_entries
		ORDER BY created_at DESC
		LIMIT 50
	`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list guestbook entries", err.Error())
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Author, &e.Message, &e.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan guestbook entry", err.Error())
		}
		entries = append(entries, e)
	}

	return map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	}, nil
}

func handleCreate(ctx context.Context, req *registry.Request) (interface{}, error) {
	handle, err := database()
	if err != nil {
		return nil, err
	}

	var body struct {
		Author  string `json:"author"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error())
	}
	if strings.TrimSpace(body.Author) == "" || strings.TrimSpace(body.Message) == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "author and message are required", "")
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Author:    strings.TrimSpace(body.Author),
		Message:   strings.TrimSpace(body.Message),
		CreatedAt: time.Now().UTC(),
	}

	_, err = handle.ExecContext(ctx, `
		INSERT INTO module_guestbook_entries (id, author, message, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.ID, entry.Author, entry.Message, entry.CreatedAt)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to save guestbook entry", err.Error())
	}

	return map[string]interface{}{"entry": entry}, nil
}
