// Package dispatch reads frames from one connection and routes each decoded
// payload to the handler registered for its command.
package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
)

// Handler acts on one decoded payload received from c.
type Handler interface {
	Handle(c *session.Client, msg protocol.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *session.Client, msg protocol.Message)

// Handle calls f(c, msg).
func (f HandlerFunc) Handle(c *session.Client, msg protocol.Message) { f(c, msg) }

// On adapts a handler for one payload type. Payloads of any other type are
// ignored.
func On[T protocol.Message](fn func(c *session.Client, msg T)) Handler {
	return HandlerFunc(func(c *session.Client, msg protocol.Message) {
		if m, ok := msg.(T); ok {
			fn(c, m)
		}
	})
}

// Table maps commands to handlers. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	handlers map[protocol.Command]Handler
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{handlers: make(map[protocol.Command]Handler)}
}

// Register binds h to cmd, replacing any previous handler.
//
// Precondition: h must not be nil.
func (t *Table) Register(cmd protocol.Command, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[cmd] = h
}

// Lookup returns the handler bound to cmd.
func (t *Table) Lookup(cmd protocol.Command) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[cmd]
	return h, ok
}

// Len returns the number of registered commands.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Role selects how decode failures are treated.
type Role int

const (
	// RoleServer reports decode failures to the peer.
	RoleServer Role = iota
	// RoleClient drops decode failures locally.
	RoleClient
)

// Dispatcher owns the read loop of a single connection.
type Dispatcher struct {
	table   *Table
	role    Role
	release func(*session.Client)
	logger  *zap.Logger
}

// New creates a Dispatcher. release is called exactly when the read loop
// ends and must be idempotent; servers pass Registry.Unregister.
//
// Precondition: table, release and logger must not be nil.
func New(table *Table, role Role, release func(*session.Client), logger *zap.Logger) *Dispatcher {
	return &Dispatcher{table: table, role: role, release: release, logger: logger}
}

// Run reads frames from c until the connection closes, the read fails or ctx
// is cancelled. The connection is always released before Run returns.
//
// Postcondition: Returns nil on a clean EOF, ctx.Err() on cancellation, or
// the read error.
func (d *Dispatcher) Run(ctx context.Context, c *session.Client) error {
	stop := context.AfterFunc(ctx, func() { d.release(c) })
	defer stop()
	defer d.release(c)

	for {
		line, err := c.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || !c.Alive() {
				return nil
			}
			d.logger.Debug("read failed", zap.Uint64("client", c.ID()), zap.Error(err))
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.LogInbound(line)
		d.dispatch(c, line)
	}
}

func (d *Dispatcher) dispatch(c *session.Client, line string) {
	msg, err := protocol.Decode(line)
	if err != nil {
		d.decodeFailed(c, err)
		return
	}

	h, ok := d.table.Lookup(msg.Command())
	if !ok {
		d.logger.Debug("no handler registered",
			zap.Uint64("client", c.ID()),
			zap.String("command", msg.Command().String()))
		return
	}
	h.Handle(c, msg)
}

func (d *Dispatcher) decodeFailed(c *session.Client, err error) {
	d.logger.Debug("decode failed", zap.Uint64("client", c.ID()), zap.Error(err))
	if d.role != RoleServer {
		return
	}
	var reply protocol.Message = protocol.ParseErrorMsg{}
	if errors.Is(err, protocol.ErrUnknownCommand) {
		reply = protocol.UnknownCommandMsg{}
	}
	_ = c.Send(reply)
}
