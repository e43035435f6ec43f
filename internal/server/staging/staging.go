// Package staging manages the scratch directory where uploads are written
// before they are handed off to the files service.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/filegate/internal/logging"
	"github.com/google/uuid"
)

const (
	tempPrefix = "upload_"
	tempSuffix = ".tmp"
)

// CleanupRecorder is notified when a temp file could not be removed.
type CleanupRecorder interface {
	CleanupFailed()
}

// Area is a scratch directory with unique temp-file naming and best-effort
// cleanup. It holds no mutable state and is safe for concurrent use.
type Area struct {
	dir      string
	logger   logging.Logger
	recorder CleanupRecorder
}

// New returns an Area rooted at dir. recorder may be nil.
func New(dir string, logger logging.Logger, recorder CleanupRecorder) *Area {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Area{dir: dir, logger: logger.With("module", "staging"), recorder: recorder}
}

// Dir returns the scratch directory.
func (a *Area) Dir() string {
	return a.dir
}

// EnsureDir creates the scratch directory and its parents if absent.
func (a *Area) EnsureDir() error {
	if err := os.MkdirAll(a.dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", a.dir, err)
	}
	return nil
}

// NewTempPath returns a path inside the scratch directory that no other call
// returns. The file is not created.
func (a *Area) NewTempPath() string {
	return filepath.Join(a.dir, tempPrefix+uuid.NewString()+tempSuffix)
}

// Cleanup removes path. A file that does not exist is fine; any other
// failure is logged and never returned, so it cannot mask the outcome of
// the request that owned the file.
func (a *Area) Cleanup(ctx context.Context, path string) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}

	a.logger.Warn(ctx, "temp file cleanup failed", "path", path, "error", err)
	if a.recorder != nil {
		a.recorder.CleanupFailed()
	}
}

// Sweep removes staged uploads last modified before now-olderThan. It is
// meant to run once at startup to collect files orphaned by a crash.
func (a *Area) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", a.dir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(a.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn(ctx, "stale temp file not removed", "path", path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}
