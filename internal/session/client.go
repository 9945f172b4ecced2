// Package session tracks control-channel clients and their identities.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/observability"
	"github.com/cory-johannsen/parley/internal/protocol"
)

// Transport is a line-framed, bidirectional connection.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	RemoteAddr() string
	Close() error
}

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("client closed")

// Client is one control-channel connection. Outbound frames pass through a
// bounded queue drained by a dedicated writer goroutine, so Send never blocks
// on the peer.
type Client struct {
	id        uint64
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	username string
	outbox   chan string
	closed   bool

	alive     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps transport and starts its writer.
//
// Precondition: transport and logger must not be nil.
// Postcondition: Returns a live, unauthenticated Client.
func NewClient(id uint64, transport Transport, outboxSize int, logger *zap.Logger) *Client {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	c := &Client{
		id:        id,
		transport: transport,
		logger:    logger,
		outbox:    make(chan string, outboxSize),
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	go c.writeLoop()
	return c
}

// ID returns the connection identifier assigned at accept time.
func (c *Client) ID() uint64 { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string { return c.transport.RemoteAddr() }

// Username returns the authenticated username, or "" if not logged in.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Authenticated reports whether the client has logged in.
func (c *Client) Authenticated() bool { return c.Username() != "" }

// Alive reports whether the client is still registered and connected.
func (c *Client) Alive() bool { return c.alive.Load() }

// ReadLine reads the next inbound line.
func (c *Client) ReadLine() (string, error) { return c.transport.ReadLine() }

// Done is closed once the writer has flushed and the transport is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send encodes msg and queues it for the peer.
//
// Postcondition: The frame is queued, or an error is returned if the client
// is closed or its queue is full.
func (c *Client) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.frame(observability.Outbound, line)
	select {
	case c.outbox <- line:
	default:
		c.logger.Warn("outbound queue full, dropping frame",
			zap.Uint64("client", c.id),
			zap.String("command", msg.Command().String()))
		return fmt.Errorf("client %d outbound queue full", c.id)
	}
	return nil
}

// Close stops accepting frames. Queued frames are flushed before the
// transport is closed. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		c.mu.Lock()
		c.closed = true
		close(c.outbox)
		c.mu.Unlock()
	})
	return nil
}

func (c *Client) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

func (c *Client) markGone() { c.alive.Store(false) }

func (c *Client) writeLoop() {
	defer close(c.done)
	defer func() { _ = c.transport.Close() }()
	for line := range c.outbox {
		if err := c.transport.WriteLine(line); err != nil {
			c.logger.Debug("write failed", zap.Uint64("client", c.id), zap.Error(err))
			return
		}
	}
}

func (c *Client) frame(dir observability.Direction, line string) {
	command, payload, _ := strings.Cut(line, " ")
	observability.FrameEntry{
		Direction:  dir,
		RemoteAddr: c.transport.RemoteAddr(),
		Username:   c.username,
		Command:    command,
		Payload:    payload,
	}.Log(c.logger)
}

// LogInbound records a received line at debug level.
func (c *Client) LogInbound(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame(observability.Inbound, line)
}

