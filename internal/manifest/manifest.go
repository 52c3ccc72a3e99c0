// Package manifest reads and validates module-authored metadata from a
// module's on-disk package. Manifests are advisory: their absence never
// blocks dispatch, only catalog metadata enrichment.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// FileName is the manifest file expected inside each module directory
const FileName = "manifest.json"

// Load reads and validates the manifest of the module package at dir.
// A missing file surfaces as an os.ErrNotExist-wrapped error so callers
// can distinguish absence from malformation.
func Load(dir string) (*models.Manifest, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := &models.Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeManifest, "Malformed manifest", err.Error())
	}

	if err := Validate(m); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks the manifest schema. Malformed manifests are rejected
// explicitly instead of letting absent fields propagate silently.
func Validate(m *models.Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return utils.NewAppError(utils.ErrCodeManifest, "Manifest name is required", "")
	}
	if m.AdminPath != "" && !strings.HasPrefix(m.AdminPath, "/") {
		return utils.NewAppError(utils.ErrCodeManifest, "Manifest adminPath must start with /", m.AdminPath)
	}
	if m.Config != nil && m.Config.Block != nil && strings.TrimSpace(m.Config.Block.Type) == "" {
		return utils.NewAppError(utils.ErrCodeManifest, "Manifest block type is required", "")
	}
	return nil
}
