package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("ValidManifest", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `{
			"name": "Guestbook",
			"version": "2.1.0",
			"adminPath": "/admin/guestbook",
			"config": {"block": {"type": "ContactForm", "props": {"target": "/modules/guestbook"}}}
		}`)

		m, err := Load(dir)
		if err != nil {
			t.Fatalf("Failed to load manifest: %v", err)
		}
		if m.Name != "Guestbook" {
			t.Errorf("Expected name Guestbook, got %s", m.Name)
		}
		if m.Config == nil || m.Config.Block == nil || m.Config.Block.Type != "ContactForm" {
			t.Errorf("Block not parsed: %+v", m.Config)
		}
		t.Logf("✓ Valid manifest loaded")
	})

	t.Run("MissingManifest", func(t *testing.T) {
		_, err := Load(t.TempDir())
		if err == nil {
			t.Fatal("Expected error for missing manifest")
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Expected not-exist error, got %v", err)
		}
		t.Logf("✓ Missing manifest distinguishable from malformed")
	})

	t.Run("MalformedManifest", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `{"name": "Broken"`)

		_, err := Load(dir)
		if err == nil {
			t.Fatal("Expected error for malformed manifest")
		}
		if errors.Is(err, fs.ErrNotExist) {
			t.Error("Malformed manifest must not look like an absent one")
		}
		appErr, ok := err.(*utils.AppError)
		if !ok || appErr.Code != utils.ErrCodeManifest {
			t.Errorf("Expected manifest error, got %v", err)
		}
		t.Logf("✓ Malformed manifest rejected")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest *models.Manifest
		wantErr  bool
	}{
		{
			name:     "minimal",
			manifest: &models.Manifest{Name: "Chat"},
			wantErr:  false,
		},
		{
			name:     "missing name",
			manifest: &models.Manifest{Version: "1.0.0"},
			wantErr:  true,
		},
		{
			name:     "blank name",
			manifest: &models.Manifest{Name: "   "},
			wantErr:  true,
		},
		{
			name:     "relative admin path",
			manifest: &models.Manifest{Name: "Chat", AdminPath: "admin/chat"},
			wantErr:  true,
		},
		{
			name: "block without type",
			manifest: &models.Manifest{
				Name:   "Chat",
				Config: &models.UIConfig{Block: &models.Block{Type: ""}},
			},
			wantErr: true,
		},
		{
			name: "full manifest",
			manifest: &models.Manifest{
				Name:      "Chat",
				AdminPath: "/admin/chat",
				Config:    &models.UIConfig{Block: &models.Block{Type: "AssistantWidget"}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.manifest)
			if tt.wantErr && err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
	t.Logf("✓ Manifest validation cases covered")
}
