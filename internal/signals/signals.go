// Package signals passes cancel requests between ccc processes through
// files in the state directory.
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often Watch checks for the signal file
// in addition to fsnotify events.
const DefaultPollInterval = time.Second

const cancelSuffix = ".cancel"

// ErrInvalidRunID is returned for run IDs that cannot name a signal file.
var ErrInvalidRunID = errors.New("invalid run id")

// Manager reads and writes signal files under <stateDir>/signals.
type Manager struct {
	dir          string
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval sets the stat fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a manager for stateDir, creating the signals directory.
func New(stateDir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:          filepath.Join(stateDir, "signals"),
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating signals directory: %w", err)
	}
	return m, nil
}

// Dir returns the signals directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) cancelPath(runID string) (string, error) {
	if runID == "" || runID != filepath.Base(runID) || strings.HasPrefix(runID, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(m.dir, runID+cancelSuffix), nil
}

// SendCancel asks the process that owns runID to cancel it.
func (m *Manager) SendCancel(runID, reason string) error {
	path, err := m.cancelPath(runID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled at " + time.Now().UTC().Format(time.RFC3339)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(reason), 0644); err != nil {
		return fmt.Errorf("writing cancel signal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing cancel signal: %w", err)
	}
	return nil
}

// CancelRequested reports whether a cancel signal exists for runID and
// returns its reason.
func (m *Manager) CancelRequested(runID string) (string, bool) {
	path, err := m.cancelPath(runID)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// Clear removes the cancel signal for runID, if any.
func (m *Manager) Clear(runID string) error {
	path, err := m.cancelPath(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Watch blocks until a cancel signal for runID appears or ctx is done.
// fn is called at most once, with the signal's reason. fsnotify delivers
// the signal promptly; a periodic stat covers platforms and filesystems
// where events are missed.
func (m *Manager) Watch(ctx context.Context, runID string, fn func(reason string)) error {
	path, err := m.cancelPath(runID)
	if err != nil {
		return err
	}
	log := m.logger.With(zap.String("run_id", runID))

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, polling for signals", zap.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(m.dir); err != nil {
			log.Debug("watching signals directory", zap.Error(err))
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	fire := func() bool {
		reason, ok := m.CancelRequested(runID)
		if !ok {
			return false
		}
		log.Info("cancel signal received", zap.String("reason", reason))
		fn(reason)
		return true
	}

	// The signal may predate the watch.
	if fire() {
		return nil
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name == path && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && fire() {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Debug("signal watcher error", zap.Error(err))
		case <-ticker.C:
			if fire() {
				return nil
			}
		}
	}
}
