package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/resilience"
)

// DefaultHealthInterval is the cadence of background health polling.
const DefaultHealthInterval = 7500 * time.Millisecond

// Snapshot is one observation of backend health, pushed to subscribers
// on every poll and every running-flag flip.
//
// Healthy is only ever true while BackendRunning is true; a stop clears
// Healthy and the latency immediately.
type Snapshot struct {
	BackendRunning      bool      `json:"backend_running"`
	Healthy             bool      `json:"healthy"`
	Skipped             bool      `json:"skipped"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LatencyMs           *int64    `json:"latency_ms,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           *string   `json:"last_error,omitempty"`
}

// Monitor periodically probes the supervised backend and fans health
// snapshots out to subscribers (the UI notification channel).
type Monitor struct {
	sup      *Supervisor
	prober   *Prober
	breaker  *resilience.Breaker
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// NewMonitor creates a health monitor polling at the given interval.
func NewMonitor(sup *Supervisor, prober *Prober, interval time.Duration, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	breaker := resilience.New("backend-probe", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("probe circuit state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &Monitor{
		sup:      sup,
		prober:   prober,
		breaker:  breaker,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]chan Snapshot),
	}
}

// Run polls until ctx is cancelled. Intended to run on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		case t := <-m.sup.Transitions():
			m.applyTransition(t)
		}
	}
}

// Snapshot returns the most recent health observation.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Check forces a poll now and returns the resulting snapshot.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	return m.poll(ctx)
}

// Subscribe registers a snapshot channel. The returned cancel func must
// be called to release it. Slow subscribers miss snapshots rather than
// blocking the monitor.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 8)
	m.subs[idx] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[idx]; ok {
			delete(m.subs, idx)
			close(sub)
		}
	}
}

// poll checks the backend once. When the backend is known to be down the
// poll short-circuits to a skipped snapshot without touching the network.
func (m *Monitor) poll(ctx context.Context) Snapshot {
	now := time.Now()

	if !m.sup.Running() {
		m.mu.Lock()
		next := m.current
		next.BackendRunning = false
		next.Healthy = false
		next.Skipped = true
		next.LatencyMs = nil
		next.LastCheckedAt = now
		m.current = next
		m.emitLocked(next)
		m.mu.Unlock()
		return next
	}

	port := m.sup.Port()
	var latency time.Duration
	err := m.breaker.Do(func() error {
		var probeErr error
		latency, probeErr = m.prober.Probe(ctx, port)
		return probeErr
	})

	m.mu.Lock()
	next := m.current
	next.BackendRunning = true
	next.Skipped = false
	next.LastCheckedAt = now
	if err != nil {
		next.Healthy = false
		next.LatencyMs = nil
		next.ConsecutiveFailures++
		msg := err.Error()
		next.LastError = &msg
	} else {
		ms := latency.Milliseconds()
		next.Healthy = true
		next.LatencyMs = &ms
		next.ConsecutiveFailures = 0
		next.LastError = nil
	}
	m.current = next
	m.emitLocked(next)
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("health probe failed", zap.Error(err))
	}
	return next
}

// applyTransition folds a lifecycle change into the snapshot. Duplicate
// flips to the state already shown are suppressed to avoid redundant
// notifications.
func (m *Monitor) applyTransition(t Transition) {
	running := t.To == StateRunning

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.BackendRunning == running {
		return
	}

	next := m.current
	next.BackendRunning = running
	next.LastCheckedAt = t.At
	if !running {
		next.Healthy = false
		next.LatencyMs = nil
	}
	m.current = next
	m.emitLocked(next)
}

// emitLocked fans a snapshot out to all subscribers. Callers hold mu.
func (m *Monitor) emitLocked(s Snapshot) {
	for _, sub := range m.subs {
		select {
		case sub <- s:
		default:
		}
	}
}
