package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// ManagerConfig contains configuration options for the Manager.
type ManagerConfig struct {
	Launcher Launcher
	Store    state.Store
	// Options are applied to every orchestrator the manager creates.
	Options []Option
	Logger  *zap.Logger
}

// Manager runs multiple runs concurrently, one Orchestrator each.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	// runs tracks submitted runs by ID until Stop.
	runs map[string]*managedRun
	mu   sync.RWMutex

	// events aggregates events from all orchestrators
	events chan Event

	// ctx and cancel for manager lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks running orchestrators and their event forwarders
	wg sync.WaitGroup
}

type managedRun struct {
	orch     *Orchestrator
	done     chan struct{}
	snapshot *models.RunSnapshot
	err      error
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*managedRun),
		events: make(chan Event, DefaultEventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit validates run and starts it in the background. It returns the run
// ID, or a *models.ConfigurationError without starting anything.
func (m *Manager) Submit(run *models.Run) (string, error) {
	if run != nil && run.ID == "" {
		run.ID = NewRunID()
	}
	if _, _, err := Prepare(run); err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, exists := m.runs[run.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("run %s already submitted", run.ID)
	}
	opts := append([]Option{WithLogger(m.logger)}, m.cfg.Options...)
	orch := New(RequiredConfig{Launcher: m.cfg.Launcher, Store: m.cfg.Store}, opts...)
	mr := &managedRun{orch: orch, done: make(chan struct{})}
	m.runs[run.ID] = mr
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.forwardEvents(orch)
	}()
	go func() {
		defer m.wg.Done()
		defer close(mr.done)

		mr.snapshot, mr.err = orch.Run(m.ctx, run)
		if mr.err != nil {
			m.logger.Error("run failed", zap.String("run_id", run.ID), zap.Error(mr.err))
		}
	}()

	return run.ID, nil
}

// forwardEvents forwards events from an orchestrator to the manager's event channel.
func (m *Manager) forwardEvents(orch *Orchestrator) {
	for event := range orch.Events() {
		select {
		case m.events <- event:
		case <-m.ctx.Done():
		default:
			// Nobody is listening; the orchestrator's own channel must keep draining.
		}
	}
}

// Events returns the channel for receiving aggregated events from all runs.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Wait blocks until the run finishes or ctx is done, and returns its final snapshot.
func (m *Manager) Wait(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	mr, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-mr.done:
		return mr.snapshot, mr.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the run's snapshot as recorded in the state store.
func (m *Manager) Status(runID string) (*models.RunSnapshot, error) {
	return m.cfg.Store.Snapshot(runID)
}

// Cancel halts a submitted run.
func (m *Manager) Cancel(runID, reason string) error {
	mr, err := m.get(runID)
	if err != nil {
		return err
	}
	mr.orch.Cancel(reason)
	return nil
}

// Stop cancels every run and waits for them to finish.
func (m *Manager) Stop() error {
	m.cancel()
	m.wg.Wait()
	close(m.events)
	return nil
}

// Count returns the number of runs that have not finished.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, mr := range m.runs {
		select {
		case <-mr.done:
		default:
			n++
		}
	}
	return n
}

// DroppedEventCount returns the total dropped events across all orchestrators.
func (m *Manager) DroppedEventCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, mr := range m.runs {
		total += mr.orch.DroppedEventCount()
	}
	return total
}

func (m *Manager) get(runID string) (*managedRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, state.ErrNotFound)
	}
	return mr, nil
}
