package assistant

import (
	"context"
	"net/http"
	"testing"

	"github.com/halcyonweb/module-runtime/internal/registry"
)

func TestAssistantModule(t *testing.T) {
	routes, ok := registry.GetRoutes(ID)
	if !ok {
		t.Fatal("Expected assistant routes to be registered")
	}

	handler, ok := routes.Resolve(http.MethodGet)
	if !ok {
		t.Fatal("Expected a GET handler")
	}

	value, err := handler(context.Background(), &registry.Request{})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	payload := value.(map[string]interface{})
	if payload["module"] != ID || payload["welcome"] == "" {
		t.Errorf("Unexpected bootstrap payload: %v", payload)
	}
	t.Logf("✓ Bootstrap payload served")

	value, err = handler(context.Background(), &registry.Request{Subpath: []string{"config"}})
	if err != nil {
		t.Fatalf("Config handler failed: %v", err)
	}
	payload = value.(map[string]interface{})
	block, ok := payload["block"].(map[string]interface{})
	if !ok || block["type"] != "AssistantWidget" {
		t.Errorf("Expected AssistantWidget block descriptor, got %v", payload)
	}
	t.Logf("✓ Block descriptor served under /config")
}
