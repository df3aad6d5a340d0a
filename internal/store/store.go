// File: internal/store/store.go
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists run artifacts as a directory per test run: the result
// record as result.json plus any saved screenshots.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
}

func NewFileStore(cfg config.ArtifactsConfig, logger *zap.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("artifacts directory must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create artifacts directory %q: %w", cfg.Dir, err)
	}
	return &FileStore{
		baseDir: cfg.Dir,
		logger:  logger.Named("store"),
	}, nil
}

// BeginRun creates the artifact directory for one test case and returns its
// name as the run identifier.
func (s *FileStore) BeginRun(testID string) (string, error) {
	runID := fmt.Sprintf("%s_%s", sanitizeID(testID), time.Now().Format("20060102_150405"))
	dir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create run directory %q: %w", dir, err)
	}
	return runID, nil
}

// SaveResult writes the result record once, as indented JSON.
func (s *FileStore) SaveResult(runID string, result *schemas.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal test result: %w", err)
	}
	path := filepath.Join(s.baseDir, runID, "result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write %q: %w", path, err)
	}
	s.logger.Debug("Result written", zap.String("path", path))
	return nil
}

// SaveFrame stores one screenshot under the run directory.
func (s *FileStore) SaveFrame(runID, name string, frame *schemas.Frame) error {
	if frame == nil || len(frame.PNG) == 0 {
		return fmt.Errorf("cannot save an empty frame")
	}
	path := filepath.Join(s.baseDir, runID, name)
	if err := os.WriteFile(path, frame.PNG, 0o644); err != nil {
		return fmt.Errorf("could not write %q: %w", path, err)
	}
	return nil
}

// LoadResult reads a previously written result record.
func (s *FileStore) LoadResult(runID string) (*schemas.TestResult, error) {
	path := filepath.Join(s.baseDir, runID, "result.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", path, err)
	}
	var result schemas.TestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("could not parse %q: %w", path, err)
	}
	return &result, nil
}

// CleanupOlderThan removes run directories whose modification time is past
// the retention window. It returns the number of directories removed.
func (s *FileStore) CleanupOlderThan(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("could not list artifacts directory: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(s.baseDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("Could not remove expired run directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Expired run artifacts removed", zap.Int("count", removed))
	}
	return removed, nil
}

// sanitizeID keeps run directory names filesystem-safe.
func sanitizeID(id string) string {
	if id == "" {
		return "test"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
