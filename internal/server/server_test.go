package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/halcyonweb/module-runtime/internal/catalog"
	"github.com/halcyonweb/module-runtime/internal/config"
	"github.com/halcyonweb/module-runtime/internal/discovery"
	"github.com/halcyonweb/module-runtime/internal/dispatch"
	"github.com/halcyonweb/module-runtime/internal/lifecycle"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/internal/registry"
	"github.com/halcyonweb/module-runtime/internal/render"
	"github.com/halcyonweb/module-runtime/internal/storage"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

var chatInstallAttempts int

func init() {
	utils.InitLogger("error", "text", "stdout", "")

	registry.RegisterRoutes("hello", &registry.Routes{
		Methods: map[string]registry.HandlerFunc{
			http.MethodGet: func(ctx context.Context, req *registry.Request) (interface{}, error) {
				return map[string]interface{}{"greeting": "hi", "subpath": strings.Join(req.Subpath, "/")}, nil
			},
		},
	})

	registry.RegisterRoutes("page", &registry.Routes{
		Methods: map[string]registry.HandlerFunc{
			http.MethodGet: func(ctx context.Context, req *registry.Request) (interface{}, error) {
				return &registry.Response{
					ContentType: "text/html",
					Body:        []byte("<p>module page</p>"),
				}, nil
			},
		},
	})

	// First install attempt fails, second succeeds
	registry.RegisterLifecycle("chat", &registry.Lifecycle{
		Install: func(ctx context.Context, db *sql.DB) error {
			chatInstallAttempts++
			if chatInstallAttempts == 1 {
				return errors.New("messages table locked")
			}
			_, err := db.ExecContext(ctx,
				`CREATE TABLE IF NOT EXISTS module_chat_messages (id TEXT PRIMARY KEY)`)
			return err
		},
	})
}

type testEnv struct {
	server     *HTTPServer
	store      storage.Storage
	modulesDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "modules.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect to storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate storage: %v", err)
	}

	modulesDir := t.TempDir()

	cat := catalog.New(store)
	srv, err := NewHTTPServer(
		&config.ServerConfig{
			Port:         8081,
			Host:         "127.0.0.1",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			EnableHealth: true,
		},
		store,
		cat,
		lifecycle.NewManager(store, modulesDir, nil, nil),
		dispatch.NewDispatcher(nil),
		render.NewRenderer(render.DefaultWhitelist()),
		discovery.NewScanner(modulesDir),
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to create HTTP server: %v", err)
	}

	return &testEnv{server: srv, store: store, modulesDir: modulesDir}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
	t.Logf("✓ Health endpoint reports %v", body["status"])
}

func TestModuleListAndEnable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveModule(ctx, &models.Module{ID: "hello"}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	// Disable via the admin endpoint
	rec, body := env.request(t, http.MethodPost, "/api/v1/modules/hello/enable",
		map[string]interface{}{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", rec.Code, body)
	}
	module, _ := body["module"].(map[string]interface{})
	if module["enabled"] != false {
		t.Errorf("Expected module to be disabled, got %v", module)
	}
	t.Logf("✓ Enable endpoint toggled the flag")

	// Default listing hides it
	rec, body = env.request(t, http.MethodGet, "/api/v1/modules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body["total"] != float64(0) {
		t.Errorf("Expected empty default listing, got %v", body["total"])
	}

	// include_disabled reveals it
	rec, body = env.request(t, http.MethodGet, "/api/v1/modules?include_disabled=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body["total"] != float64(1) {
		t.Errorf("Expected 1 module with include_disabled, got %v", body["total"])
	}
	t.Logf("✓ Listing respects the enabled gate")

	// Missing enabled value is a 400
	rec, _ = env.request(t, http.MethodPost, "/api/v1/modules/hello/enable",
		map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing enabled value, got %d", rec.Code)
	}
	t.Logf("✓ Enable endpoint requires an explicit value")
}

func TestDiscoverEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(env.modulesDir, "ondisk"), 0755); err != nil {
		t.Fatalf("Failed to create module directory: %v", err)
	}
	manifestJSON := `{"name": "OnDisk", "adminPath": "/admin/ondisk"}`
	if err := os.WriteFile(filepath.Join(env.modulesDir, "ondisk", "manifest.json"),
		[]byte(manifestJSON), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(env.modulesDir, "known"), 0755); err != nil {
		t.Fatalf("Failed to create module directory: %v", err)
	}
	if err := env.store.SaveModule(ctx, &models.Module{ID: "known"}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	rec, body := env.request(t, http.MethodGet, "/api/v1/modules/discover", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	modules, _ := body["modules"].([]interface{})
	if len(modules) != 2 {
		t.Fatalf("Expected 2 discovered modules, got %d", len(modules))
	}

	byID := make(map[string]map[string]interface{}, len(modules))
	for _, raw := range modules {
		m := raw.(map[string]interface{})
		byID[m["id"].(string)] = m
	}
	if byID["known"]["catalogued"] != true {
		t.Error("Expected known to be cross-referenced as catalogued")
	}
	if byID["ondisk"]["catalogued"] != false {
		t.Error("Expected ondisk to be uncatalogued")
	}
	if byID["ondisk"]["manifest_present"] != true {
		t.Error("Expected ondisk manifest to be read")
	}
	t.Logf("✓ Discovery cross-references the catalog")
}

func TestFloatingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveModule(ctx, &models.Module{
		ID:     "widget",
		Config: []byte(`{"block":{"type":"AssistantWidget","props":{"welcome":"hi"}}}`),
	}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	disabled := false
	if err := env.store.SaveModule(ctx, &models.Module{
		ID:      "hidden",
		Enabled: &disabled,
		Config:  []byte(`{"block":{"type":"AssistantWidget"}}`),
	}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	// A block outside the whitelist is dropped at render time
	if err := env.store.SaveModule(ctx, &models.Module{
		ID:     "rogue",
		Config: []byte(`{"block":{"type":"ScriptInjector"}}`),
	}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	rec, body := env.request(t, http.MethodGet, "/api/v1/modules/floating", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	fragments, _ := body["fragments"].([]interface{})
	if len(fragments) != 1 {
		t.Fatalf("Expected 1 fragment, got %d: %v", len(fragments), fragments)
	}
	fragment := fragments[0].(map[string]interface{})
	if fragment["module_id"] != "widget" {
		t.Errorf("Expected widget fragment, got %v", fragment)
	}
	inner := fragment["fragment"].(map[string]interface{})
	if inner["kind"] != "AssistantWidget" {
		t.Errorf("Expected AssistantWidget kind, got %v", inner["kind"])
	}
	t.Logf("✓ Floating endpoint renders only enabled, whitelisted blocks")
}

func TestInstallRetryAndMigrationLog(t *testing.T) {
	env := newTestEnv(t)
	chatInstallAttempts = 0

	// First attempt fails inside the module routine
	rec, body := env.request(t, http.MethodPost, "/api/v1/modules/chat/install", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on first install, got %d: %v", rec.Code, body)
	}

	// Second attempt succeeds
	rec, body = env.request(t, http.MethodPost, "/api/v1/modules/chat/install", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on retry, got %d: %v", rec.Code, body)
	}
	module, _ := body["module"].(map[string]interface{})
	if module["installed"] != true {
		t.Errorf("Expected module to be installed, got %v", module)
	}
	t.Logf("✓ Install retry succeeded after a failed attempt")

	// Both attempts are visible in the per-module migration log
	rec, body = env.request(t, http.MethodGet, "/api/v1/modules/migrations?module_id=chat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	entries, _ := body["entries"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 migration log entries, got %d", len(entries))
	}
	latest := entries[0].(map[string]interface{})
	earliest := entries[1].(map[string]interface{})
	if latest["success"] != true || earliest["success"] != false {
		t.Errorf("Expected success then failure, got %v / %v", latest["success"], earliest["success"])
	}
	if earliest["error"] == nil {
		t.Error("Expected the failed attempt to record its cause")
	}
	t.Logf("✓ Migration log shows both attempts, most recent first")

	// Uninstall clears the installed flag
	rec, _ = env.request(t, http.MethodPost, "/api/v1/modules/chat/uninstall", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	rec, body = env.request(t, http.MethodGet, "/api/v1/modules?include_disabled=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	modules, _ := body["modules"].([]interface{})
	for _, raw := range modules {
		m := raw.(map[string]interface{})
		if m["id"] == "chat" && m["installed"] != false {
			t.Errorf("Expected chat to be uninstalled, got %v", m)
		}
	}
	t.Logf("✓ Uninstall cleared the installed flag")
}

func TestModuleDispatchRoutes(t *testing.T) {
	env := newTestEnv(t)

	// Envelope response with subpath forwarding
	rec, body := env.request(t, http.MethodGet, "/modules/hello/messages/42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["ok"] != true {
		t.Errorf("Expected ok envelope, got %v", body)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["subpath"] != "messages/42" {
		t.Errorf("Expected subpath forwarding, got %v", data)
	}
	t.Logf("✓ Dispatch forwards the module-relative subpath")

	// Raw passthrough
	rec, _ = env.request(t, http.MethodGet, "/modules/page", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("Expected text/html, got %s", ct)
	}
	if rec.Body.String() != "<p>module page</p>" {
		t.Errorf("Raw body altered: %q", rec.Body.String())
	}
	t.Logf("✓ Raw module responses pass through verbatim")

	// Unregistered module is a structured 404
	rec, body = env.request(t, http.MethodGet, "/modules/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if body["ok"] != false {
		t.Errorf("Expected structured error body, got %v", body)
	}
	t.Logf("✓ Unregistered module yields a structured 404")
}

func TestModuleDispatchEnabledGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	disabled := false
	if err := env.store.SaveModule(ctx, &models.Module{ID: "hello", Enabled: &disabled}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	rec, body := env.request(t, http.MethodGet, "/modules/hello", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for disabled module, got %d", rec.Code)
	}
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, "disabled") {
		t.Errorf("Expected disabled message, got %q", msg)
	}
	t.Logf("✓ Disabled modules are unreachable through dispatch")

	// Re-enabling restores dispatch
	rec, _ = env.request(t, http.MethodPost, "/api/v1/modules/hello/enable",
		map[string]interface{}{"enabled": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	rec, _ = env.request(t, http.MethodGet, "/modules/hello", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 after re-enable, got %d", rec.Code)
	}
	t.Logf("✓ Re-enabling restores dispatch")
}

func TestDeleteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveModule(ctx, &models.Module{ID: "doomed"}); err != nil {
		t.Fatalf("Failed to seed module: %v", err)
	}

	rec, body := env.request(t, http.MethodPost, "/api/v1/modules/doomed/delete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", rec.Code, body)
	}

	module, err := env.store.GetModule(ctx, "doomed")
	if err != nil {
		t.Fatalf("Failed to get module: %v", err)
	}
	if module != nil {
		t.Error("Expected module to be removed from the catalog")
	}
	t.Logf("✓ Delete endpoint removed the catalog entry")
}
