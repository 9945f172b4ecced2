// Package heartbeat checks the liveness of authenticated clients with
// PING/PONG exchanges.
package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/timeout"
)

// State is the liveness state of one client.
type State int

const (
	Idle State = iota
	AwaitingPong
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPong:
		return "awaiting_pong"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Monitor runs the heartbeat of a single client.
type Monitor struct {
	client      *session.Client
	interval    time.Duration
	pongTimeout time.Duration
	hangup      func(*session.Client)
	logger      *zap.Logger

	mu      sync.Mutex
	state   State
	pending *timeout.Binding

	quit     chan struct{}
	stopOnce sync.Once
}

func newMonitor(c *session.Client, interval, pongTimeout time.Duration, hangup func(*session.Client), logger *zap.Logger) *Monitor {
	return &Monitor{
		client:      c,
		interval:    interval,
		pongTimeout: pongTimeout,
		hangup:      hangup,
		logger:      logger,
		quit:        make(chan struct{}),
	}
}

// State returns the current liveness state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop halts the ping schedule and disarms a pending pong timeout.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Cancel()
	m.state = Terminated
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			if !m.ping() {
				return
			}
		}
	}
}

// ping sends PING when idle. Returns false once the monitor is finished.
func (m *Monitor) ping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == Terminated:
		return false
	case !m.client.Alive():
		m.state = Terminated
		return false
	case m.state == AwaitingPong:
		return true
	}

	if err := m.client.Send(protocol.Ping{}); err != nil {
		m.logger.Debug("ping not sent", zap.Uint64("client", m.client.ID()), zap.Error(err))
		return true
	}
	m.state = AwaitingPong
	m.pending = timeout.Arm(&m.mu, func(*sync.Mutex) bool {
		return m.state != AwaitingPong
	}, func(*sync.Mutex) {
		m.expire()
	}, m.pongTimeout)
	return true
}

// expire runs with m.mu held.
func (m *Monitor) expire() {
	m.state = Terminated
	m.stopOnce.Do(func() { close(m.quit) })
	m.logger.Info("no pong received, hanging up",
		zap.Uint64("client", m.client.ID()),
		zap.String("username", m.client.Username()))
	_ = m.client.Send(protocol.Hangup{Reason: protocol.CodeNoPongReceived})
	go m.hangup(m.client)
}

// pong handles a PONG. Returns false if no PING was outstanding.
func (m *Monitor) pong() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case AwaitingPong:
		m.pending.Cancel()
		m.pending = nil
		m.state = Idle
		return true
	case Terminated:
		return true
	}
	return false
}

// Service owns the monitors of all authenticated clients. It is a
// session.DisconnectListener.
type Service struct {
	interval    time.Duration
	pongTimeout time.Duration
	hangup      func(*session.Client)
	logger      *zap.Logger

	mu       sync.Mutex
	monitors map[*session.Client]*Monitor
}

// NewService creates a Service. hangup closes a client whose pong timed out;
// servers pass Registry.Unregister.
//
// Precondition: interval > 0; pongTimeout > 0; hangup and logger must not be nil.
func NewService(interval, pongTimeout time.Duration, hangup func(*session.Client), logger *zap.Logger) *Service {
	return &Service{
		interval:    interval,
		pongTimeout: pongTimeout,
		hangup:      hangup,
		logger:      logger,
		monitors:    make(map[*session.Client]*Monitor),
	}
}

// Start begins the heartbeat of c. Starting an already monitored client is a no-op.
//
// Postcondition: c receives a PING every interval while it answers in time.
func (s *Service) Start(c *session.Client) *Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.monitors[c]; ok {
		return m
	}
	m := newMonitor(c, s.interval, s.pongTimeout, s.hangup, s.logger)
	s.monitors[c] = m
	go m.run()
	return m
}

// Pong records a PONG from c. An unsolicited PONG is answered with
// PONG_ERROR and otherwise ignored.
func (s *Service) Pong(c *session.Client) {
	s.mu.Lock()
	m, ok := s.monitors[c]
	s.mu.Unlock()

	if ok && m.pong() {
		return
	}
	_ = c.Send(protocol.PongError{Code: protocol.CodePongWithoutPing})
}

// Monitor returns the monitor of c, if any.
func (s *Service) Monitor(c *session.Client) (*Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[c]
	return m, ok
}

// OnDisconnect stops and forgets the monitor of c.
func (s *Service) OnDisconnect(c *session.Client) {
	s.mu.Lock()
	m, ok := s.monitors[c]
	delete(s.monitors, c)
	s.mu.Unlock()
	if ok {
		m.Stop()
	}
}

// StopAll stops every monitor.
func (s *Service) StopAll() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = make(map[*session.Client]*Monitor)
	s.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
}
