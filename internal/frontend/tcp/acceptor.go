// Package tcp accepts TCP connections and hands each one to a handler on its
// own goroutine.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// acceptRetry paces the accept loop after transient errors such as
// descriptor exhaustion.
const (
	acceptRetryEvery = 50 * time.Millisecond
	acceptRetryBurst = 5
)

// ConnHandler serves one accepted connection. It must return once ctx is
// cancelled. The acceptor closes conn after HandleConn returns.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn net.Conn) error
}

// HandlerFunc adapts a function to ConnHandler.
type HandlerFunc func(ctx context.Context, conn net.Conn) error

// HandleConn calls f(ctx, conn).
func (f HandlerFunc) HandleConn(ctx context.Context, conn net.Conn) error { return f(ctx, conn) }

// Acceptor listens on a TCP address and dispatches each connection to a
// ConnHandler.
type Acceptor struct {
	name    string
	addr    string
	handler ConnHandler
	logger  *zap.Logger
	retry   *rate.Limiter

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	ready    chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates an acceptor. name labels its log lines.
//
// Precondition: addr must be a valid "host:port"; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(name, addr string, handler ConnHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		name:    name,
		addr:    addr,
		handler: handler,
		logger:  logger.With(zap.String("listener", name)),
		retry:   rate.NewLimiter(rate.Every(acceptRetryEvery), acceptRetryBurst),
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.addr, err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	close(a.ready)
	a.mu.Unlock()

	a.logger.Info("acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			delay := a.retry.Reserve().Delay()
			a.logger.Error("accepting connection", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-a.quit:
				return nil
			case <-time.After(delay):
			}
			continue
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

func (a *Acceptor) handleConn(conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()
	start := time.Now()
	addr := conn.RemoteAddr().String()

	a.logger.Debug("connection accepted", zap.String("remote_addr", addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleConn(ctx, conn); err != nil {
		a.logger.Debug("connection ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	a.logger.Debug("connection ended cleanly",
		zap.String("remote_addr", addr),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop closes the listener, cancels every connection and waits for the
// handlers to return. Safe to call multiple times and before ListenAndServe.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.quit:
		return
	default:
	}
	close(a.quit)
	a.running = false
	if a.listener != nil {
		a.listener.Close()
	}
	a.wg.Wait()

	a.logger.Info("acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Ready is closed once the acceptor is listening.
func (a *Acceptor) Ready() <-chan struct{} { return a.ready }

// Name returns the acceptor's label.
func (a *Acceptor) Name() string { return a.name }
