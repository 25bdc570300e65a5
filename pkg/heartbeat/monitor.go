// Package heartbeat keeps a secondary liveness channel open during
// streaming exchanges and detects silently dead connections.
package heartbeat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
	"github.com/kimnauryz/ai-sarbaz/pkg/sse"
)

// ConnectionState is the process-wide view of the liveness channel
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Opener opens the server-push liveness connection
type Opener interface {
	OpenHeartbeat(ctx context.Context) (io.ReadCloser, error)
}

// Config holds the monitor's timing policy. MaxReconnects of 0 retries
// forever at the fixed backoff, preserving the original behavior.
type Config struct {
	CheckInterval    time.Duration
	StaleAfter       time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    int
}

// DefaultConfig returns the stock timing policy
func DefaultConfig() Config {
	return Config{
		CheckInterval:    15 * time.Second,
		StaleAfter:       30 * time.Second,
		ReconnectBackoff: 3 * time.Second,
		MaxReconnects:    0,
	}
}

// Monitor owns the heartbeat connection, the staleness sweep, and the
// reconnect timer. All three are released on every exit path.
type Monitor struct {
	opener Opener
	cfg    Config
	log    *logger.Logger

	mu             sync.Mutex
	conn           io.ReadCloser
	lastActivity   time.Time
	reconnects     int
	state          ConnectionState
	stopSweep      chan struct{}
	reconnectTimer *time.Timer
	generation     int
	stopped        bool

	exchangeActive func() bool
	onState        func(ConnectionState)
}

// NewMonitor creates a monitor using the given opener and timing policy
func NewMonitor(opener Opener, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultConfig().ReconnectBackoff
	}

	return &Monitor{
		opener:  opener,
		cfg:     cfg,
		log:     logger.WithComponent("heartbeat"),
		state:   StateConnected,
		stopped: true,
	}
}

// SetExchangeActive registers the predicate consulted by the staleness
// check; staleness only triggers a reconnect while an exchange is active.
func (m *Monitor) SetExchangeActive(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeActive = fn
}

// OnStateChange registers a callback for connection state transitions
func (m *Monitor) OnStateChange(fn func(ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// State returns the current connection state
func (m *Monitor) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start opens the liveness connection and begins the staleness sweep.
// Any previous connection, sweep, and pending reconnect are released first.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.stopped = false
	m.reconnects = 0
	m.startLocked()
	m.mu.Unlock()
}

// Stop releases the connection, the sweep, and any pending reconnect.
// Safe to call multiple times and on teardown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.generation++
	m.releaseLocked()
	m.mu.Unlock()
}

// startLocked restarts the monitor's resources under the held lock
func (m *Monitor) startLocked() {
	m.generation++
	gen := m.generation
	m.releaseLocked()
	m.lastActivity = time.Now()

	m.stopSweep = make(chan struct{})
	stop := m.stopSweep

	go m.connect(gen)
	go m.sweep(gen, stop)
}

// releaseLocked frees the connection, sweep, and reconnect timer
func (m *Monitor) releaseLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.stopSweep != nil {
		close(m.stopSweep)
		m.stopSweep = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// connect opens the liveness connection and consumes its frames. Any
// inbound frame counts as activity.
func (m *Monitor) connect(gen int) {
	body, err := m.opener.OpenHeartbeat(context.Background())
	if err != nil {
		m.log.Warn("Heartbeat connection failed", "error", err)
		m.scheduleReconnect(gen)
		return
	}

	m.mu.Lock()
	if m.stopped || gen != m.generation {
		m.mu.Unlock()
		body.Close()
		return
	}
	m.conn = body
	m.lastActivity = time.Now()
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	parser := sse.NewParser(body)
	for {
		frame, err := parser.Next()
		if err != nil {
			m.mu.Lock()
			current := !m.stopped && gen == m.generation
			m.mu.Unlock()
			if current {
				m.log.Warn("Heartbeat connection lost", "error", err)
				m.scheduleReconnect(gen)
			}
			return
		}

		m.mu.Lock()
		m.lastActivity = time.Now()
		m.mu.Unlock()
		m.log.Debug("Heartbeat received", "event", frame.Name, "data", frame.Data)
	}
}

// scheduleReconnect arms the backoff timer, honoring the reconnect cap
func (m *Monitor) scheduleReconnect(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || gen != m.generation {
		return
	}

	m.reconnects++
	if m.cfg.MaxReconnects > 0 && m.reconnects > m.cfg.MaxReconnects {
		m.log.Error("Heartbeat reconnect limit reached", "attempts", m.reconnects-1)
		m.setStateLocked(StateDisconnected)
		return
	}

	m.setStateLocked(StateReconnecting)
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectBackoff, func() {
		m.mu.Lock()
		if !m.stopped {
			m.startLocked()
		}
		m.mu.Unlock()
	})
}

// sweep periodically checks for staleness until its stop channel closes
func (m *Monitor) sweep(gen int, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkStale(gen)
		}
	}
}

// checkStale restarts the connection when no activity arrived within the
// staleness window while an exchange is active
func (m *Monitor) checkStale(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || gen != m.generation {
		return
	}

	active := m.exchangeActive == nil || m.exchangeActive()
	if time.Since(m.lastActivity) > m.cfg.StaleAfter && active {
		m.log.Warn("Connection appears stale, restarting heartbeat")
		m.startLocked()
	}
}

// setStateLocked records a state transition and notifies the listener
func (m *Monitor) setStateLocked(state ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state

	if m.onState != nil {
		fn := m.onState
		go fn(state)
	}
}
