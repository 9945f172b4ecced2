// Package transfer brokers file transfers between two logged-in clients:
// the request/accept/reject exchange on the control channel, the rendezvous
// of the two data connections and the final checksum verification.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/audit"
	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/timeout"
)

// Session is one transfer. It is pending until accepted and active until its
// checksum is confirmed or a party disconnects.
type Session struct {
	mu       sync.Mutex
	token    string
	sender   *session.Client
	receiver *session.Client
	names    [2]string
	filename string
	checksum string

	// resolved is set once the session leaves the pending set.
	resolved bool
	expiry   *timeout.Binding

	source   io.ReadCloser
	sink     io.WriteCloser
	relaying bool
	done     chan struct{}
	doneOnce sync.Once
}

// Token returns the 36-character session token.
func (s *Session) Token() string { return s.token }

// Filename returns the declared filename.
func (s *Session) Filename() string { return s.filename }

// Parties returns the sender and receiver usernames.
func (s *Session) Parties() (sender, receiver string) { return s.names[0], s.names[1] }

// Attached reports which data connections have been attached.
func (s *Session) Attached() (source, sink bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil, s.sink != nil
}

func (s *Session) involves(c *session.Client) bool {
	return s.sender == c || s.receiver == c
}

func (s *Session) counterpart(c *session.Client) *session.Client {
	if s.sender == c {
		return s.receiver
	}
	return s.sender
}

// finish closes any attached data connection and releases a half waiting
// for its peer. Safe to call multiple times.
func (s *Session) finish() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		src, dst := s.source, s.sink
		s.mu.Unlock()
		if src != nil {
			_ = src.Close()
		}
		if dst != nil {
			_ = dst.Close()
		}
		close(s.done)
	})
}

// Engine tracks pending and active transfers. All methods are safe for
// concurrent use.
type Engine struct {
	registry       *session.Registry
	requestTimeout time.Duration
	bufferSize     int
	recorder       audit.Recorder
	logger         *zap.Logger
	newToken       func() string
	now            func() time.Time

	mu      sync.Mutex
	pending map[string]*Session
	active  map[string]*Session
}

// NewEngine creates an Engine with no transfers.
//
// Precondition: registry, recorder and logger must not be nil; requestTimeout > 0.
func NewEngine(registry *session.Registry, requestTimeout time.Duration, bufferSize int, recorder audit.Recorder, logger *zap.Logger) *Engine {
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}
	return &Engine{
		registry:       registry,
		requestTimeout: requestTimeout,
		bufferSize:     bufferSize,
		recorder:       recorder,
		logger:         logger,
		newToken:       func() string { return uuid.NewString() },
		now:            time.Now,
		pending:        make(map[string]*Session),
		active:         make(map[string]*Session),
	}
}

// Pending returns the pending session for token.
func (e *Engine) Pending(token string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.pending[token]
	return s, ok
}

// Active returns the active session for token.
func (e *Engine) Active(token string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[token]
	return s, ok
}

// Counts returns the number of pending and active sessions.
func (e *Engine) Counts() (pending, active int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending), len(e.active)
}

// Request opens a pending transfer from sender to the client logged in as
// req.Username. The receiver is sent the request annotated with the session
// token and the sender is acknowledged.
//
// Postcondition: Returns the token with the request timeout armed, or one of
// protocol.ErrNotLoggedIn, protocol.ErrReceiverNotFound,
// protocol.ErrInvalidReceiver with no state changed.
func (e *Engine) Request(sender *session.Client, req protocol.TransferReq) (string, error) {
	from := sender.Username()
	if from == "" {
		return "", protocol.ErrNotLoggedIn
	}
	receiver, ok := e.registry.Lookup(req.Username)
	if !ok {
		return "", protocol.ErrReceiverNotFound
	}
	if receiver == sender {
		return "", protocol.ErrInvalidReceiver
	}

	s := &Session{
		token:    e.newToken(),
		sender:   sender,
		receiver: receiver,
		names:    [2]string{from, req.Username},
		filename: req.Filename,
		checksum: req.Checksum,
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	if !sender.Alive() || !receiver.Alive() {
		e.mu.Unlock()
		return "", protocol.ErrReceiverNotFound
	}
	if _, dup := e.pending[s.token]; dup {
		e.mu.Unlock()
		return "", fmt.Errorf("duplicate transfer token %s", s.token)
	}
	s.expiry = timeout.Arm(&s.mu, func(*sync.Mutex) bool {
		return s.resolved
	}, func(*sync.Mutex) {
		e.expire(s)
	}, e.requestTimeout)
	e.pending[s.token] = s
	e.mu.Unlock()

	e.logger.Info("transfer requested",
		zap.String("token", s.token),
		zap.String("sender", from),
		zap.String("receiver", req.Username),
		zap.String("filename", req.Filename),
		zap.Float64("filesize", req.Filesize))

	_ = receiver.Send(protocol.TransferReq{
		Username:  from,
		Filename:  req.Filename,
		Filesize:  req.Filesize,
		Checksum:  req.Checksum,
		SessionID: s.token,
	})
	_ = sender.Send(protocol.TransferResp{SessionID: s.token, Status: protocol.OK()})
	return s.token, nil
}

// claim resolves the pending session token on behalf of its receiver.
// On success s.mu is held and the session is out of the pending set.
func (e *Engine) claim(actor *session.Client, token string) (*Session, error) {
	if !actor.Authenticated() {
		return nil, protocol.ErrNotLoggedIn
	}
	s, ok := e.Pending(token)
	if !ok {
		return nil, protocol.ErrNoSuchPendingTransfer
	}

	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return nil, protocol.ErrNoSuchPendingTransfer
	}
	if s.receiver != actor {
		s.mu.Unlock()
		return nil, protocol.ErrNotDesignatedReceiver
	}
	s.resolved = true
	s.expiry.Cancel()
	return s, nil
}

// Accept moves a pending transfer to active and sends both parties their
// data-channel handshake token.
//
// Postcondition: Returns nil, or one of protocol.ErrNotLoggedIn,
// protocol.ErrNoSuchPendingTransfer, protocol.ErrNotDesignatedReceiver with
// no state changed.
func (e *Engine) Accept(actor *session.Client, token string) error {
	s, err := e.claim(actor, token)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	e.mu.Lock()
	delete(e.pending, token)
	e.active[token] = s
	e.mu.Unlock()

	e.logger.Info("transfer accepted", zap.String("token", token))
	_ = s.receiver.Send(protocol.TransferAcceptResp{Status: protocol.OK()})
	_ = s.receiver.Send(protocol.TransferAccepted{
		Username: s.names[0],
		Filename: s.filename,
		UUID:     token + string(RoleReceiver),
	})
	_ = s.sender.Send(protocol.TransferAccepted{
		Username: s.names[1],
		Filename: s.filename,
		UUID:     token + string(RoleSender),
	})
	return nil
}

// Reject drops a pending transfer and tells the sender.
//
// Postcondition: Returns nil, or one of protocol.ErrNotLoggedIn,
// protocol.ErrNoSuchPendingTransfer, protocol.ErrNotDesignatedReceiver with
// no state changed.
func (e *Engine) Reject(actor *session.Client, token string) error {
	s, err := e.claim(actor, token)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	e.mu.Lock()
	delete(e.pending, token)
	e.mu.Unlock()

	e.logger.Info("transfer rejected", zap.String("token", token))
	_ = s.receiver.Send(protocol.TransferRejectResp{Status: protocol.OK()})
	_ = s.sender.Send(protocol.TransferRejected{Username: s.names[1]})
	e.record(s, audit.OutcomeRejected)
	return nil
}

// expire runs with s.mu held.
func (e *Engine) expire(s *Session) {
	s.resolved = true
	e.mu.Lock()
	delete(e.pending, s.token)
	e.mu.Unlock()

	e.logger.Info("transfer request timed out", zap.String("token", s.token))
	e.record(s, audit.OutcomeTimeout)

	resp := protocol.TransferResp{SessionID: s.token, Status: protocol.Fail(protocol.CodeResponseTimeout)}
	_ = s.sender.Send(resp)
	_ = s.receiver.Send(resp)
}

// ConfirmChecksum compares the receiver's checksum with the one declared at
// request time, notifies both parties and removes the active session.
// Unknown tokens are ignored.
//
// Postcondition: Returns true if an active session was resolved.
func (e *Engine) ConfirmChecksum(token, checksum string) bool {
	e.mu.Lock()
	s, ok := e.active[token]
	delete(e.active, token)
	e.mu.Unlock()
	if !ok {
		return false
	}
	s.finish()

	if s.checksum == checksum {
		e.logger.Info("transfer verified", zap.String("token", token))
		msg := protocol.TransferSuccess{ID: token, Filename: s.filename}
		_ = s.sender.Send(msg)
		_ = s.receiver.Send(msg)
		e.record(s, audit.OutcomeSuccess)
		return true
	}

	e.logger.Info("transfer checksum mismatch", zap.String("token", token))
	msg := protocol.TransferFailed{ID: token, Filename: s.filename, Code: protocol.CodeChecksumMismatch}
	_ = s.sender.Send(msg)
	_ = s.receiver.Send(msg)
	e.record(s, audit.OutcomeMismatch)
	return true
}

// OnDisconnect fails every pending and active transfer involving c and
// notifies each counterpart.
func (e *Engine) OnDisconnect(c *session.Client) {
	e.mu.Lock()
	var pending []*Session
	for _, s := range e.pending {
		if s.involves(c) {
			pending = append(pending, s)
		}
	}
	e.mu.Unlock()

	for _, s := range pending {
		e.abandonPending(s, c)
	}

	// Collected after the pending pass so an accept racing with it is seen here.
	e.mu.Lock()
	var active []*Session
	for token, s := range e.active {
		if s.involves(c) {
			active = append(active, s)
			delete(e.active, token)
		}
	}
	e.mu.Unlock()

	for _, s := range active {
		s.finish()
		e.fail(s, c)
	}
}

func (e *Engine) abandonPending(s *Session, gone *session.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return
	}
	s.resolved = true
	s.expiry.Cancel()
	e.mu.Lock()
	delete(e.pending, s.token)
	e.mu.Unlock()
	e.fail(s, gone)
}

func (e *Engine) fail(s *Session, gone *session.Client) {
	e.logger.Info("transfer abandoned",
		zap.String("token", s.token),
		zap.String("left", gone.Username()))
	_ = s.counterpart(gone).Send(protocol.TransferFailed{
		ID:       s.token,
		Filename: s.filename,
		Code:     protocol.CodeUnexpectedDisconnect,
	})
	e.record(s, audit.OutcomeDisconnect)
}

func (e *Engine) record(s *Session, outcome string) {
	e.recorder.Record(audit.Event{
		Kind:        audit.KindTransfer,
		Actor:       s.names[0],
		Counterpart: s.names[1],
		Subject:     s.filename,
		Outcome:     outcome,
		At:          e.now(),
	})
}

// ErrNoActiveTransfer is returned by Attach for a token that is not active.
var ErrNoActiveTransfer = errors.New("no active transfer")

// ErrRoleTaken is returned by Attach when the role already has a connection.
var ErrRoleTaken = errors.New("transfer role already attached")
