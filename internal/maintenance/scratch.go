package maintenance

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var scratchPatterns = []string{"*.tmp", "*.temp", "temp_*", "*.lock"}

// side files of a sqlite database, removed only when orphaned
var sideSuffixes = []string{"-journal", "-wal", "-shm"}

// sweepScratch removes stale temporary files from ScratchDir. Database side
// files are removed only when their database is gone and never for the live
// database.
func (s *Scheduler) sweepScratch() (int, error) {
	if s.conf.ScratchDir == "" {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.conf.ScratchRetention)
	live := ""
	if s.conf.DatabasePath != "" {
		live, _ = filepath.Abs(s.conf.DatabasePath)
	}

	candidates := make(map[string]struct{})
	for _, pattern := range scratchPatterns {
		matches, err := filepath.Glob(filepath.Join(s.conf.ScratchDir, pattern))
		if err != nil {
			return 0, err
		}
		for _, m := range matches {
			candidates[m] = struct{}{}
		}
	}
	for _, suffix := range sideSuffixes {
		matches, err := filepath.Glob(filepath.Join(s.conf.ScratchDir, "*"+suffix))
		if err != nil {
			return 0, err
		}
		for _, m := range matches {
			base := strings.TrimSuffix(m, suffix)
			if abs, _ := filepath.Abs(base); abs == live {
				continue
			}
			if _, err := os.Stat(base); err == nil {
				continue
			}
			candidates[m] = struct{}{}
		}
	}

	removed := 0
	var errs []error
	for path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err = os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Debug("scratch files removed", "count", removed)
	}
	return removed, errors.Join(errs...)
}
