// Package observe follows a run's state from outside the process that
// coordinates it.
package observe

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// DefaultInterval is the poll interval used alongside fsnotify.
const DefaultInterval = 500 * time.Millisecond

// Watcher emits a run's snapshot whenever it changes. It only reads.
type Watcher struct {
	obs      state.Observer
	runID    string
	dirs     []string
	interval time.Duration
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDirs adds directories whose changes trigger an immediate refresh.
func WithDirs(dirs ...string) Option {
	return func(w *Watcher) {
		w.dirs = append(w.dirs, dirs...)
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for runID.
func NewWatcher(obs state.Observer, runID string, opts ...Option) *Watcher {
	w := &Watcher{
		obs:      obs,
		runID:    runID,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts following the run. The returned channel receives the first
// snapshot as soon as the run exists and every changed snapshot after it.
// A slow reader only sees the latest snapshot. The channel is closed when
// ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan *models.RunSnapshot {
	out := make(chan *models.RunSnapshot, 1)
	go w.loop(ctx, out)
	return out
}

func (w *Watcher) loop(ctx context.Context, out chan *models.RunSnapshot) {
	defer close(out)
	log := w.logger.With(zap.String("run_id", w.runID))

	var events <-chan fsnotify.Event
	var errs <-chan error
	fw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fw.Close()
		for _, dir := range w.dirs {
			if err := fw.Add(dir); err != nil {
				log.Debug("not watching directory", zap.String("dir", dir), zap.Error(err))
			}
		}
		events = fw.Events
		errs = fw.Errors
	} else {
		log.Debug("fsnotify unavailable, polling", zap.Error(err))
	}

	var last *models.RunSnapshot
	refresh := func() {
		snap, err := w.obs.Snapshot(w.runID)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				log.Debug("snapshot", zap.Error(err))
			}
			return
		}
		if last != nil && reflect.DeepEqual(last, snap) {
			return
		}
		last = snap
		// Keep only the newest snapshot buffered.
		select {
		case <-out:
		default:
		}
		out <- snap
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			refresh()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Debug("state watcher error", zap.Error(err))
		case <-ticker.C:
			refresh()
		}
	}
}

// Latest returns the ID of the most recently created run.
func Latest(obs state.Observer) (string, error) {
	runs, err := obs.ListRuns(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs: %w", state.ErrNotFound)
	}
	return runs[0].ID, nil
}
