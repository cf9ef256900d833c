package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
)

const defaultMaxRunning = 3

// Manager admits task stages and runs them against the executor registry.
type Manager struct {
	cfg          *config.Config
	registry     *pipeline.Registry
	executors    *stage.Registry
	logger       *slog.Logger
	notifier     notifications.Service
	limiter      *rate.Limiter
	pollInterval time.Duration
	maxRunning   int

	wake chan struct{}

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	loop     sync.WaitGroup
	inflight sync.WaitGroup
	lastErr  error
	lastTask int64

	watchOnce sync.Once
	watchWG   sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once

	queueActive   bool
	queueStart    time.Time
	queueFinished int
	queueFailed   int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier replaces the notifier built from configuration.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithLimiter replaces the admission limiter built from configuration.
func WithLimiter(l *rate.Limiter) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.limiter = l
		}
	}
}

// NewManager constructs a scheduler over registry and executors.
func NewManager(cfg *config.Config, registry *pipeline.Registry, executors *stage.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	maxRunning := cfg.Scheduler.MaxRunningTasks
	if maxRunning <= 0 {
		maxRunning = defaultMaxRunning
	}
	m := &Manager{
		cfg:          cfg,
		registry:     registry,
		executors:    executors,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		notifier:     notifications.NewService(cfg),
		limiter:      admissionLimiter(cfg.Scheduler),
		pollInterval: cfg.PollInterval(),
		maxRunning:   maxRunning,
		wake:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// admissionLimiter builds the token bucket pacing stage starts. A zero rate
// disables pacing.
func admissionLimiter(s config.Scheduler) *rate.Limiter {
	if s.AdmissionRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := s.AdmissionBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.AdmissionRate), burst)
}

// MaxRunning returns the concurrency ceiling in effect.
func (m *Manager) MaxRunning() int {
	return m.maxRunning
}
