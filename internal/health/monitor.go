package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"vidstore/internal/model"
)

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// ConfigFrom copies the polling parameters from a descriptor healthcheck.
func ConfigFrom(hc model.HealthCheck) Config {
	return Config{
		Interval:    hc.Interval,
		Timeout:     hc.Timeout,
		StartPeriod: hc.StartPeriod,
		Retries:     hc.Retries,
	}
}

// Hooks receive every probe result and every state change. Either may be nil.
type Hooks struct {
	OnProbe      func(elapsed time.Duration, err error)
	OnTransition func(from, to State, err error)
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	State     State     `json:"state"`
	Streak    int       `json:"failure_streak"`
	LastError string    `json:"last_error,omitempty"`
	LastProbe time.Time `json:"last_probe,omitempty"`
}

// Monitor polls a Probe and tracks the readiness state machine:
// Starting -> {Ready | Failed}, with Unready between failed attempts.
type Monitor struct {
	probe  Probe
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	hooks  Hooks

	mu        sync.Mutex
	state     State
	streak    int
	lastErr   error
	lastProbe time.Time
	since     time.Time
	changed   chan struct{}
}

func NewMonitor(probe Probe, cfg Config, clk clock.Clock, logger *slog.Logger, hooks Hooks) *Monitor {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Monitor{
		probe:   probe,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		hooks:   hooks,
		state:   Starting,
		since:   clk.Now(),
		changed: make(chan struct{}),
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.state, Streak: m.streak, LastProbe: m.lastProbe}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Check runs one attempt bounded by the configured timeout and records it.
// Entering or remaining in Failed returns an *model.InstanceUnreadyError.
func (m *Monitor) Check(ctx context.Context) (State, error) {
	m.mu.Lock()
	probe, cfg := m.probe, m.cfg
	m.mu.Unlock()

	attemptCtx := ctx
	cancel := func() {}
	if cfg.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	start := m.clock.Now()
	err := probe.Probe(attemptCtx)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	cancel()

	if ctx.Err() != nil {
		return m.State(), ctx.Err()
	}
	if err != nil && timedOut {
		err = &model.ProbeTimeoutError{Timeout: cfg.Timeout}
	}
	if m.hooks.OnProbe != nil {
		m.hooks.OnProbe(m.clock.Now().Sub(start), err)
	}
	return m.record(start, err)
}

func (m *Monitor) record(at time.Time, err error) (State, error) {
	m.mu.Lock()
	from := m.state
	m.lastProbe = at
	m.lastErr = err

	to := from
	switch {
	case from == Failed:
	case err == nil:
		m.streak = 0
		to = Ready
	case from == Starting && at.Sub(m.since) < m.cfg.StartPeriod:
		// failures inside the start period do not count
	default:
		m.streak++
		if m.streak >= m.cfg.Retries {
			to = Failed
		} else {
			to = Unready
		}
	}
	streak, retries := m.streak, m.cfg.Retries
	if to != from {
		m.state = to
		close(m.changed)
		m.changed = make(chan struct{})
	}
	m.mu.Unlock()

	if to != from {
		m.logger.Info("health state changed", "from", from.String(), "to", to.String(), "failures", streak, "error", err)
		if m.hooks.OnTransition != nil {
			m.hooks.OnTransition(from, to, err)
		}
	}

	if to == Failed {
		return to, &model.InstanceUnreadyError{Retries: retries, Last: err}
	}
	return to, err
}

// Run probes immediately and then once per interval until the state becomes
// Failed or ctx is done. It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		state, err := m.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if state == Failed {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(m.interval()):
		}
	}
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Interval
}

// Reconfigure swaps the probe and polling parameters, then resets to
// Starting. The next attempt uses the new values.
func (m *Monitor) Reconfigure(probe Probe, cfg Config) {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	m.mu.Lock()
	m.probe = probe
	m.cfg = cfg
	m.mu.Unlock()
	m.Reset()
}

// Reset returns the monitor to Starting, typically after a restart.
func (m *Monitor) Reset() {
	m.mu.Lock()
	from := m.state
	m.state = Starting
	m.streak = 0
	m.lastErr = nil
	m.since = m.clock.Now()
	if from != Starting {
		close(m.changed)
		m.changed = make(chan struct{})
	}
	m.mu.Unlock()

	if from != Starting && m.hooks.OnTransition != nil {
		m.hooks.OnTransition(from, Starting, nil)
	}
}

// WaitReady blocks until the state is Ready, Failed, or ctx is done.
func (m *Monitor) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, last, ch, retries := m.state, m.lastErr, m.changed, m.cfg.Retries
		m.mu.Unlock()

		switch state {
		case Ready:
			return nil
		case Failed:
			return &model.InstanceUnreadyError{Retries: retries, Last: last}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Combine fans every callback out to each of hooks in order.
func Combine(hooks ...Hooks) Hooks {
	return Hooks{
		OnProbe: func(elapsed time.Duration, err error) {
			for _, h := range hooks {
				if h.OnProbe != nil {
					h.OnProbe(elapsed, err)
				}
			}
		},
		OnTransition: func(from, to State, err error) {
			for _, h := range hooks {
				if h.OnTransition != nil {
					h.OnTransition(from, to, err)
				}
			}
		},
	}
}
