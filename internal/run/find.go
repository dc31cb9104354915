package run

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Find opens every run directory directly under dataDir, oldest
// completion first. Directories without a valid descriptor are skipped.
func Find(dataDir string, logger *slog.Logger) ([]*Run, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}

	var runs []*Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := Open(filepath.Join(dataDir, e.Name()))
		if errors.Is(err, ErrInvalidCollection) {
			logger.Debug("skipping directory", "path", e.Name(), "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].completed.Before(runs[j].completed)
	})
	return runs, nil
}

// Clean removes synced runs from disk and returns their paths.
func Clean(runs []*Run, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var cleaned []string
	for _, r := range runs {
		if r.synced == "" {
			continue
		}
		logger.Info("cleaning run", "path", r.path)
		if err := os.RemoveAll(r.path); err != nil {
			return cleaned, fmt.Errorf("remove %s: %w", r.path, err)
		}
		cleaned = append(cleaned, r.path)
	}
	return cleaned, nil
}

// ResetAll resets every run so the next sync ingests it again.
func ResetAll(runs []*Run, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, r := range runs {
		if err := r.Reset(); err != nil {
			return fmt.Errorf("reset %s: %w", r.path, err)
		}
		logger.Info("reset run", "path", r.path)
	}
	return nil
}
