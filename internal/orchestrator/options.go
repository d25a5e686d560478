package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/metrics"
	"github.com/ShayCichocki/ccc/internal/recovery"
	"github.com/ShayCichocki/ccc/internal/state"
)

const (
	// DefaultMaxParallel caps concurrent sessions when no option is given.
	DefaultMaxParallel = 3
	// DefaultEventBuffer is the size of the events channel.
	DefaultEventBuffer = 256
	// DefaultTaskTimeout applies to tasks that declare no timeout.
	DefaultTaskTimeout = 30 * time.Minute
)

// RunStore is the part of the state store the orchestrator writes through.
type RunStore interface {
	state.RunWriter
	state.SessionOpener
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Launcher runs one worker session per call.
	Launcher Launcher
	// Store receives run, task, and session state.
	Store RunStore
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxParallel         int
	classifier          *recovery.Classifier
	logger              *zap.Logger
	metrics             *metrics.Metrics
	eventBuffer         int
	cancelRunningOnHalt bool
	defaultTimeout      time.Duration
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		maxParallel:         DefaultMaxParallel,
		logger:              zap.NewNop(),
		eventBuffer:         DefaultEventBuffer,
		cancelRunningOnHalt: true,
		defaultTimeout:      DefaultTaskTimeout,
	}
}

// WithMaxParallel caps concurrent sessions regardless of a run's own limit.
func WithMaxParallel(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithClassifier sets the failure classifier.
func WithClassifier(c *recovery.Classifier) Option {
	return func(o *orchestratorOptions) { o.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *orchestratorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithEventBuffer sets the events channel size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithCancelRunningOnHalt controls whether running sessions are terminated
// when a tier 4 failure halts the run. When false they finish normally.
func WithCancelRunningOnHalt(b bool) Option {
	return func(o *orchestratorOptions) { o.cancelRunningOnHalt = b }
}

// WithDefaultTimeout sets the timeout for tasks that declare none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}
