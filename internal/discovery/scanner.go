// Package discovery reports module packages present on disk, whether or
// not they are catalogued.
package discovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/manifest"
	"github.com/halcyonweb/module-runtime/internal/models"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Scanner walks the module directory root
type Scanner struct {
	root   string
	logger *logrus.Logger
}

// NewScanner creates a scanner over the given modules root
func NewScanner(root string) *Scanner {
	return &Scanner{
		root:   root,
		logger: utils.GetLogger(),
	}
}

// Scan returns one entry per immediate subdirectory of the modules root.
// A missing or malformed manifest yields ManifestPresent=false rather than
// aborting the scan. An unreadable root yields an empty result: "no
// modules directory" is a valid initial state.
func (s *Scanner) Scan() ([]models.DiscoveredModule, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Debug("Modules directory not readable", "root", s.root, "error", err)
		return []models.DiscoveredModule{}, nil
	}

	discovered := make([]models.DiscoveredModule, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id := entry.Name()
		m, err := manifest.Load(filepath.Join(s.root, id))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Module manifest rejected", "module", id, "error", err)
			}
			discovered = append(discovered, models.DiscoveredModule{ID: id})
			continue
		}

		discovered = append(discovered, models.DiscoveredModule{
			ID:              id,
			ManifestPresent: true,
			Manifest:        m,
		})
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].ID < discovered[j].ID
	})

	return discovered, nil
}
