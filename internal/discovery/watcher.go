package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Watcher periodically rescans the modules directory and reports modules
// appearing or disappearing on disk.
type Watcher struct {
	scanner  *Scanner
	interval time.Duration
	logger   *logrus.Logger

	metricsManager *metrics.Manager

	mu           sync.RWMutex
	known        map[string]bool
	lastScanTime time.Time
	scanCount    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over the given scanner
func NewWatcher(scanner *Scanner, interval time.Duration, metricsManager *metrics.Manager) *Watcher {
	return &Watcher{
		scanner:        scanner,
		interval:       interval,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		known:          make(map[string]bool),
	}
}

// Start begins periodic scanning until Stop is called
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.scanOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scanOnce()
			}
		}
	}()

	w.logger.Info("Module directory watcher started", "interval", w.interval)
}

// Stop stops the watcher and waits for the scan loop to exit
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.logger.Info("Module directory watcher stopped")
}

func (w *Watcher) scanOnce() {
	discovered, err := w.scanner.Scan()
	if err != nil {
		w.logger.Warn("Module directory scan failed", "error", err)
		return
	}

	current := make(map[string]bool, len(discovered))
	for _, d := range discovered {
		current[d.ID] = true
	}

	w.mu.Lock()
	for id := range current {
		if !w.known[id] {
			w.logger.Info("Module package appeared on disk", "module", id)
		}
	}
	for id := range w.known {
		if !current[id] {
			w.logger.Info("Module package removed from disk", "module", id)
		}
	}
	w.known = current
	w.lastScanTime = time.Now()
	w.scanCount++
	w.mu.Unlock()

	if w.metricsManager != nil {
		w.metricsManager.GetPrometheusMetrics().UpdateModulesOnDisk(len(discovered))
	}
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"modules_on_disk": len(w.known),
		"scan_count":      w.scanCount,
		"last_scan_time":  w.lastScanTime,
	}
}
