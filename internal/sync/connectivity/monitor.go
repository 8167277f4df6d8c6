// Package connectivity detects whether the remote API is reachable by
// probing it on an interval.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
)

// DefaultInterval is the time between health checks.
const DefaultInterval = 10 * time.Second

// Pinger checks the remote.
type Pinger interface {
	Ping(ctx context.Context, path string) error
}

// Monitor checks the remote and reports online/offline transitions.
type Monitor struct {
	pinger   Pinger
	path     string
	interval time.Duration
	onChange func(online bool)
	logger   *logging.Logger

	mu      sync.Mutex
	online  bool
	known   bool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Monitor. onChange is called after the first check and on
// every later transition.
func New(pinger Pinger, path string, interval time.Duration, onChange func(online bool)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		pinger:   pinger,
		path:     path,
		interval: interval,
		onChange: onChange,
		logger:   logging.Get(),
	}
}

// SetLogger sets the logger. Must be called before Start.
func (m *Monitor) SetLogger(l *logging.Logger) {
	m.logger = l
}

// Start checks once and then every interval until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop stops probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings once, records the result and reports a transition to
// onChange. It returns the observed state.
func (m *Monitor) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(checkCtx, m.path)
	cancel()
	online := err == nil

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if changed {
		fields := map[string]interface{}{"online": online}
		if err != nil {
			fields["error"] = err.Error()
		}
		m.logger.Info("Connectivity changed", fields)
		if m.onChange != nil {
			m.onChange(online)
		}
	}
	return online
}

// Online returns the last observed state (false before the first check).
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
