package reachability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"smsrelay/internal/observability"
)

// ProbeFunc performs one connectivity check.
type ProbeFunc func(ctx context.Context) bool

// Monitor tracks whether the delivery API is reachable. Subscribers hear
// about state changes only: repeated identical observations are dropped.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	known  bool
	online bool
	subs   map[int]func(online bool)
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(probe ProbeFunc, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(bool)),
	}
}

// Check runs the probe once and records the result. A missing probe or a
// panicking one counts as offline.
func (m *Monitor) Check(ctx context.Context) (online bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reachability probe panic recovered", "panic", r)
			online = false
		}
		m.Observe(online)
	}()

	if m.probe == nil {
		return false
	}
	return m.probe(ctx)
}

// Online returns the last observed state; false before the first observation.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// Observe records a connectivity observation and notifies subscribers if it
// differs from the previous one. The first observation always notifies.
func (m *Monitor) Observe(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		observability.Reachability.Set(1)
	} else {
		observability.Reachability.Set(0)
	}
	slog.Info("reachability changed", "online", online)
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for state changes and returns a function that
// removes it again.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Start polls the probe every interval until Stop. It returns false if the
// monitor is already running or has no usable interval.
func (m *Monitor) Start(parent context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil || m.interval <= 0 {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()

	slog.Info("reachability monitor started", "interval", m.interval.String())
	return true
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	slog.Info("reachability monitor stopped")
	return true
}
