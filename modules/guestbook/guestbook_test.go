package guestbook

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/halcyonweb/module-runtime/internal/registry"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	handle, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	// The in-memory database disappears with the connection
	handle.SetMaxOpenConns(1)

	return handle
}

func TestGuestbookModule(t *testing.T) {
	handle := newTestDB(t)
	Configure(handle)
	ctx := context.Background()

	hooks, ok := registry.GetLifecycle(ID)
	if !ok {
		t.Fatal("Expected guestbook lifecycle hooks to be registered")
	}
	routes, ok := registry.GetRoutes(ID)
	if !ok {
		t.Fatal("Expected guestbook routes to be registered")
	}

	if err := hooks.Install(ctx, handle); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	// Idempotent guard makes re-running safe
	if err := hooks.Install(ctx, handle); err != nil {
		t.Fatalf("Repeat install failed: %v", err)
	}
	t.Logf("✓ Install created the guestbook schema idempotently")

	create, _ := routes.Resolve(http.MethodPost)
	value, err := create(ctx, &registry.Request{
		Body: []byte(`{"author": "ada", "message": "lovely site"}`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	created := value.(map[string]interface{})
	entry, ok := created["entry"].(Entry)
	if !ok || entry.Author != "ada" || entry.ID == "" {
		t.Errorf("Unexpected created entry: %+v", created["entry"])
	}
	t.Logf("✓ Entry created with generated id %s", entry.ID)

	// Validation failures never touch the table
	if _, err := create(ctx, &registry.Request{Body: []byte(`{"author": "  "}`)}); err == nil {
		t.Error("Expected blank entry to be rejected")
	}
	if _, err := create(ctx, &registry.Request{Body: []byte(`not json`)}); err == nil {
		t.Error("Expected malformed body to be rejected")
	}
	t.Logf("✓ Entry validation rejects blank and malformed input")

	list, _ := routes.Resolve(http.MethodGet)
	value, err = list(ctx, &registry.Request{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	listing := value.(map[string]interface{})
	if listing["total"] != 1 {
		t.Errorf("Expected 1 entry, got %v", listing["total"])
	}
	t.Logf("✓ Listing returned the stored entry")

	// Uninstall drops the table inside a host transaction
	tx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := hooks.Uninstall(ctx, tx); err != nil {
		tx.Rollback()
		t.Fatalf("Uninstall failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit uninstall: %v", err)
	}

	var count int
	err = handle.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'module_guestbook_entries'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Error("Expected uninstall to drop the guestbook table")
	}
	t.Logf("✓ Uninstall dropped the guestbook schema")
}
