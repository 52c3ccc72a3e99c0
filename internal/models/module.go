package models

import (
	"encoding/json"
	"time"
)

// Module represents a catalogued extension module
type Module struct {
	ID        string          `json:"id" db:"id"`
	Enabled   *bool           `json:"enabled,omitempty" db:"enabled"`
	Installed bool            `json:"installed" db:"installed"`
	Manifest  *Manifest       `json:"manifest,omitempty" db:"manifest"`
	Config    json.RawMessage `json:"config,omitempty" db:"config"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// IsEnabled reports whether the module is active. An absent flag means enabled.
func (m *Module) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// UIConfig parses the module's config blob into its UI portion.
// Returns nil when the module carries no config.
func (m *Module) UIConfig() (*UIConfig, error) {
	if len(m.Config) == 0 {
		return nil, nil
	}
	var cfg UIConfig
	if err := json.Unmarshal(m.Config, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Manifest is a module-authored description of identity and UI contributions
type Manifest struct {
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	AdminPath string    `json:"adminPath,omitempty"`
	Config    *UIConfig `json:"config,omitempty"`
}

// UIConfig carries the optional UI contribution of a module: either a
// full-page layout or a single always-visible floating block.
type UIConfig struct {
	Layout *LayoutDocument `json:"layout,omitempty"`
	Block  *Block          `json:"block,omitempty"`
}

// DiscoveredModule is one entry of a module directory scan
type DiscoveredModule struct {
	ID              string    `json:"id"`
	ManifestPresent bool      `json:"manifest_present"`
	Manifest        *Manifest `json:"manifest,omitempty"`
	Catalogued      bool      `json:"catalogued"`
}

// FloatingBlock pairs an enabled module with its declared floating block
type FloatingBlock struct {
	ModuleID string `json:"module_id"`
	Block    Block  `json:"block"`
}
