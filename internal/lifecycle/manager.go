// Package lifecycle orchestrates module install and uninstall, records
// every migration attempt, and keeps the catalog flags in sync.
package lifecycle

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/catalog"
	"github.com/halcyonweb/module-runtime/internal/manifest"
	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/internal/registry"
	"github.com/halcyonweb/module-runtime/internal/storage"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Notifier receives lifecycle outcome notifications
type Notifier interface {
	Notify(ctx context.Context, title, message string, data map[string]interface{})
}

// Manager orchestrates module install and uninstall
type Manager struct {
	storage    storage.Storage
	modulesDir string
	logger     *logrus.Logger
	notifier   Notifier

	metricsManager *metrics.Manager

	// Per-module advisory locks. Install and uninstall of the same module
	// id are serialised; distinct ids never block each other.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager
func NewManager(store storage.Storage, modulesDir string, notifier Notifier, metricsManager *metrics.Manager) *Manager {
	return &Manager{
		storage:        store,
		modulesDir:     modulesDir,
		logger:         utils.GetLogger(),
		notifier:       notifier,
		metricsManager: metricsManager,
		locks:          make(map[string]*sync.Mutex),
	}
}

// Install runs a module's install routine against the shared connection,
// marks the module installed and appends a migration log record. Install
// is intentionally non-transactional: routines are expected to use
// idempotent schema guards and be safe to re-run after a partial failure.
func (m *Manager) Install(ctx context.Context, id string) error {
	if err := catalog.ValidateID(id); err != nil {
		return err
	}

	unlock := m.lock(id)
	defer unlock()

	start := time.Now()

	var installErr error
	if hooks, ok := registry.GetLifecycle(id); ok && hooks.Install != nil {
		installErr = hooks.Install(ctx, m.storage.DB())
	}

	if installErr != nil {
		m.appendLog(ctx, id, "install", false, installErr)
		m.record("install", "failure", start)
		m.notify(ctx, "Module install failed", id, map[string]interface{}{
			"module": id,
			"error":  installErr.Error(),
		})
		return utils.NewAppError(utils.ErrCodeLifecycle, "Module install failed", installErr.Error())
	}

	if err := m.markInstalled(ctx, id); err != nil {
		return err
	}

	m.appendLog(ctx, id, "install", true, nil)
	m.record("install", "success", start)
	m.notify(ctx, "Module installed", id, map[string]interface{}{"module": id})
	m.logger.Info("Module installed", "module", id)

	return nil
}

// Uninstall runs a module's uninstall routine inside an explicit
// transaction, rolling back in full on any failure. Teardown is
// destructive, so it must be all-or-nothing. A module without an
// uninstall routine is a no-op success.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	if err := catalog.ValidateID(id); err != nil {
		return err
	}

	unlock := m.lock(id)
	defer unlock()

	start := time.Now()

	hooks, ok := registry.GetLifecycle(id)
	if ok && hooks.Uninstall != nil {
		if err := m.runUninstallTx(ctx, id, hooks); err != nil {
			m.appendLog(ctx, id, "uninstall", false, err)
			m.record("uninstall", "failure", start)
			m.notify(ctx, "Module uninstall failed", id, map[string]interface{}{
				"module": id,
				"error":  err.Error(),
			})
			return utils.NewAppError(utils.ErrCodeLifecycle, "Module uninstall failed", err.Error())
		}
	}

	// Not-found is fine here: uninstalling a never-catalogued module is
	// still a success.
	if err := m.storage.SetModuleInstalled(ctx, id, false); err != nil {
		if appErr, isApp := err.(*utils.AppError); !isApp || appErr.Code != utils.ErrCodeNotFound {
			return err
		}
	}

	m.appendLog(ctx, id, "uninstall", true, nil)
	m.record("uninstall", "success", start)
	m.notify(ctx, "Module uninstalled", id, map[string]interface{}{"module": id})
	m.logger.Info("Module uninstalled", "module", id)

	return nil
}

func (m *Manager) runUninstallTx(ctx context.Context, id string, hooks *registry.Lifecycle) error {
	tx, err := m.storage.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := hooks.Uninstall(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// markInstalled sets the installed flag, creating the catalog row when the
// module was never catalogued. Manifest metadata from disk enriches a new
// row; a manifest-declared config seeds the row's config blob.
func (m *Manager) markInstalled(ctx context.Context, id string) error {
	module, err := m.storage.GetModule(ctx, id)
	if err != nil {
		return err
	}

	if module == nil {
		module = &models.Module{ID: id}
	}
	module.Installed = true

	if module.Manifest == nil {
		if mf, err := manifest.Load(filepath.Join(m.modulesDir, id)); err == nil {
			module.Manifest = mf
		}
	}
	if len(module.Config) == 0 && module.Manifest != nil && module.Manifest.Config != nil {
		if data, err := marshalUIConfig(module.Manifest.Config); err == nil {
			module.Config = data
		}
	}

	return m.storage.SaveModule(ctx, module)
}

func marshalUIConfig(cfg *models.UIConfig) (json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (m *Manager) appendLog(ctx context.Context, id, migration string, success bool, cause error) {
	entry := &models.MigrationLogEntry{
		ModuleID:  id,
		Migration: migration,
		Success:   success,
	}
	if cause != nil {
		text := cause.Error()
		entry.Error = &text
	}

	if err := m.storage.AppendMigrationLog(ctx, entry); err != nil {
		m.logger.Error("Failed to append migration log entry", "module", id, "error", err)
	}
}

func (m *Manager) record(operation, outcome string, start time.Time) {
	if m.metricsManager == nil {
		return
	}
	m.metricsManager.GetPrometheusMetrics().RecordLifecycleOperation(
		operation, outcome, time.Since(start))
}

func (m *Manager) notify(ctx context.Context, title, message string, data map[string]interface{}) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, title, message, data)
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
