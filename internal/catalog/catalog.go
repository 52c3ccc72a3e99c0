// Package catalog is the authoritative record of known modules: identity,
// enabled and installed flags, and config blob.
package catalog

import (
	"context"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/internal/storage"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Module ids must be filesystem- and URL-safe
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateID checks that a module id is filesystem- and URL-safe
func ValidateID(id string) error {
	if id == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Module id is required", "")
	}
	if !idPattern.MatchString(id) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid module id", id)
	}
	return nil
}

// Catalog provides module catalog operations over persistent storage
type Catalog struct {
	storage storage.Storage
	logger  *logrus.Logger
}

// New creates a catalog over the given storage
func New(store storage.Storage) *Catalog {
	return &Catalog{
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// List returns catalog entries. Without includeDisabled, entries whose
// enabled flag is explicitly false are filtered out; an absent flag counts
// as enabled.
func (c *Catalog) List(ctx context.Context, includeDisabled bool) ([]*models.Module, error) {
	return c.storage.GetModules(ctx, includeDisabled)
}

// Get returns a catalog entry, or nil when the module is unknown
func (c *Catalog) Get(ctx context.Context, id string) (*models.Module, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return c.storage.GetModule(ctx, id)
}

// SetEnabled toggles a module's enabled flag and returns the mutated entry
func (c *Catalog) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Module, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	module, err := c.storage.SetModuleEnabled(ctx, id, enabled)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Module enabled flag updated", "module", id, "enabled", enabled)
	return module, nil
}

// Delete removes a catalog entry. On-disk module files and migration log
// rows are untouched.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	if err := c.storage.DeleteModule(ctx, id); err != nil {
		return err
	}

	c.logger.Info("Module removed from catalog", "module", id)
	return nil
}

// Floating returns the floating blocks of all enabled modules. The catalog
// config blob wins; a manifest-declared block is used when the catalog
// carries no config.
func (c *Catalog) Floating(ctx context.Context) ([]models.FloatingBlock, error) {
	modules, err := c.storage.GetModules(ctx, false)
	if err != nil {
		return nil, err
	}

	blocks := make([]models.FloatingBlock, 0)
	for _, module := range modules {
		block := floatingBlock(module)
		if block == nil {
			continue
		}
		blocks = append(blocks, models.FloatingBlock{
			ModuleID: module.ID,
			Block:    *block,
		})
	}

	return blocks, nil
}

func floatingBlock(module *models.Module) *models.Block {
	cfg, err := module.UIConfig()
	if err == nil && cfg != nil && cfg.Block != nil {
		return cfg.Block
	}
	if module.Manifest != nil && module.Manifest.Config != nil {
		return module.Manifest.Config.Block
	}
	return nil
}
