// Package handlers serves the control and data channels: it wires decoded
// protocol commands to the session registry, the heartbeat, the game engine
// and the transfer engine.
package handlers

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/audit"
	"github.com/cory-johannsen/parley/internal/config"
	"github.com/cory-johannsen/parley/internal/dispatch"
	"github.com/cory-johannsen/parley/internal/frontend/tcp"
	"github.com/cory-johannsen/parley/internal/heartbeat"
	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/rps"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/transfer"
)

// defaultDrain bounds how long a closing connection may spend flushing
// queued frames when no write timeout is configured.
const defaultDrain = 5 * time.Second

// ControlHandler implements tcp.ConnHandler for the control channel. Each
// connection becomes a session.Client driven by a server-role dispatcher.
type ControlHandler struct {
	version   string
	cfg       config.ControlConfig
	registry  *session.Registry
	beats     *heartbeat.Service
	games     *rps.Engine
	transfers *transfer.Engine
	recorder  audit.Recorder
	logger    *zap.Logger
	table     *dispatch.Table
}

// NewControlHandler creates a ControlHandler and registers its disconnect
// listener with registry. beats may be nil to disable the heartbeat.
//
// Precondition: registry, games, transfers, recorder and logger must be non-nil.
// Postcondition: Returns a handler with every server-side command registered.
func NewControlHandler(
	version string,
	cfg config.ControlConfig,
	registry *session.Registry,
	beats *heartbeat.Service,
	games *rps.Engine,
	transfers *transfer.Engine,
	recorder audit.Recorder,
	logger *zap.Logger,
) *ControlHandler {
	h := &ControlHandler{
		version:   version,
		cfg:       cfg,
		registry:  registry,
		beats:     beats,
		games:     games,
		transfers: transfers,
		recorder:  recorder,
		logger:    logger,
	}
	h.table = h.commands()
	registry.AddListener(session.DisconnectFunc(h.loggedOut))
	return h
}

// Table returns the command table. Used by tests and diagnostics.
func (h *ControlHandler) Table() *dispatch.Table { return h.table }

// HandleConn implements tcp.ConnHandler. It greets the peer with READY and
// dispatches its frames until the connection ends.
//
// Postcondition: The client is unregistered and its queued frames flushed
// (or abandoned after the drain deadline) when HandleConn returns.
func (h *ControlHandler) HandleConn(ctx context.Context, raw net.Conn) error {
	start := time.Now()
	conn := tcp.NewLineConn(raw, h.cfg.ReadTimeout, h.cfg.WriteTimeout)
	c := session.NewClient(h.registry.NextID(), conn, h.cfg.OutboxSize, h.logger)
	h.registry.Register(c)

	h.logger.Info("client connected",
		zap.Uint64("client", c.ID()),
		zap.String("remote_addr", c.RemoteAddr()),
	)
	_ = c.Send(protocol.Ready{Version: h.version})

	d := dispatch.New(h.table, dispatch.RoleServer, h.registry.Unregister, h.logger)
	err := d.Run(ctx, c)

	drain := h.cfg.WriteTimeout
	if drain <= 0 {
		drain = defaultDrain
	}
	select {
	case <-c.Done():
	case <-time.After(drain):
		h.logger.Warn("abandoning unflushed frames", zap.Uint64("client", c.ID()))
	}

	h.logger.Debug("control connection finished",
		zap.Uint64("client", c.ID()),
		zap.Duration("duration", time.Since(start)),
	)
	return err
}

func (h *ControlHandler) commands() *dispatch.Table {
	t := dispatch.NewTable()

	t.Register(protocol.CmdEnter, dispatch.On(h.enter))
	t.Register(protocol.CmdBroadcastReq, dispatch.On(h.broadcast))
	t.Register(protocol.CmdPrivateReq, dispatch.On(h.private))
	t.Register(protocol.CmdClientsReq, dispatch.On(h.clients))
	t.Register(protocol.CmdBye, dispatch.On(h.bye))
	t.Register(protocol.CmdPong, dispatch.On(h.pong))

	t.Register(protocol.CmdRPSStartReq, dispatch.On(h.rpsStart))
	t.Register(protocol.CmdRPSChoiceReq, dispatch.On(h.rpsChoice))

	t.Register(protocol.CmdTransferReq, dispatch.On(h.transferRequest))
	t.Register(protocol.CmdTransferAccept, dispatch.On(h.transferAccept))
	t.Register(protocol.CmdTransferReject, dispatch.On(h.transferReject))
	t.Register(protocol.CmdTransferChecksum, dispatch.On(h.transferChecksum))
	return t
}

// statusOf converts a handler error into a response status. Errors without
// a wire code are logged and reported without one.
func (h *ControlHandler) statusOf(c *session.Client, cmd protocol.Command, err error) protocol.Status {
	if err == nil {
		return protocol.OK()
	}
	code, ok := protocol.CodeOf(err)
	if !ok {
		h.logger.Error("handling command",
			zap.Uint64("client", c.ID()),
			zap.String("command", cmd.String()),
			zap.Error(err),
		)
		return protocol.Status{Status: protocol.StatusError}
	}
	h.logger.Debug("command refused",
		zap.Uint64("client", c.ID()),
		zap.String("command", cmd.String()),
		zap.Int("code", int(code)),
		zap.Error(err),
	)
	return protocol.Fail(code)
}

// others sends msg to every authenticated client except c.
func (h *ControlHandler) others(c *session.Client, msg protocol.Message) {
	for _, peer := range h.registry.Authenticated() {
		if peer != c {
			_ = peer.Send(msg)
		}
	}
}

func (h *ControlHandler) loggedOut(c *session.Client) {
	if name := c.Username(); name != "" {
		h.recorder.Record(audit.Event{Kind: audit.KindLogout, Actor: name, At: time.Now()})
	}
}
