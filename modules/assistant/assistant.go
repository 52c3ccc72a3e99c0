// Package assistant is the built-in floating assistant widget module. It
// contributes an always-visible block and serves its bootstrap data.
package assistant

import (
	"context"
	"net/http"

	"github.com/halcyonweb/module-runtime/internal/registry"
)

// ID is the module identifier
const ID = "assistant"

const defaultWelcome = "Hi! Ask me anything about this site."

func init() {
	registry.RegisterRoutes(ID, &registry.Routes{
		Methods: map[string]registry.HandlerFunc{
			http.MethodGet: handleGet,
		},
	})
}

// handleGet serves the widget bootstrap payload
func handleGet(ctx context.Context, req *registry.Request) (interface{}, error) {
	if len(req.Subpath) > 0 && req.Subpath[0] == "config" {
		return map[string]interface{}{
			"block": map[string]interface{}{
				"type":  "AssistantWidget",
				"props": map[string]interface{}{"welcome": defaultWelcome},
			},
		}, nil
	}

	return map[string]interface{}{
		"module":  ID,
		"welcome": defaultWelcome,
	}, nil
}
