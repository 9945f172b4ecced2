package handlers

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/audit"
	"github.com/cory-johannsen/parley/internal/observability"
	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
)

func (h *ControlHandler) enter(c *session.Client, msg protocol.Enter) {
	err := h.registry.Authenticate(msg.Username, c)
	_ = c.Send(protocol.EnterResp{Status: h.statusOf(c, protocol.CmdEnter, err)})
	if err != nil {
		return
	}

	h.logger.Info("client logged in",
		zap.Uint64("client", c.ID()),
		zap.String("username", msg.Username),
	)
	clients, authed := h.registry.Counts()
	observability.LogClientCount(h.logger, clients, authed)

	if h.beats != nil {
		h.beats.Start(c)
	}
	h.others(c, protocol.Joined{Username: msg.Username})
	h.recorder.Record(audit.Event{Kind: audit.KindLogin, Actor: msg.Username, At: time.Now()})
}

func (h *ControlHandler) broadcast(c *session.Client, msg protocol.BroadcastReq) {
	name := c.Username()
	if name == "" {
		_ = c.Send(protocol.BroadcastResp{Status: protocol.Fail(protocol.CodeNotLoggedIn)})
		return
	}
	_ = c.Send(protocol.BroadcastResp{Status: protocol.OK()})
	h.others(c, protocol.Broadcast{Username: name, Message: msg.Message})
}

func (h *ControlHandler) private(c *session.Client, msg protocol.PrivateReq) {
	err := h.sendPrivate(c, msg)
	_ = c.Send(protocol.PrivateResp{Status: h.statusOf(c, protocol.CmdPrivateReq, err)})
}

func (h *ControlHandler) sendPrivate(c *session.Client, msg protocol.PrivateReq) error {
	name := c.Username()
	if name == "" {
		return protocol.ErrNotLoggedIn
	}
	to, ok := h.registry.Lookup(msg.To)
	if !ok {
		return protocol.ErrReceiverNotFound
	}
	if to == c {
		return protocol.ErrInvalidReceiver
	}
	if err := to.Send(protocol.Private{From: name, Message: msg.Message}); err != nil {
		// The recipient went away between lookup and send.
		return protocol.ErrReceiverNotFound
	}
	return nil
}

func (h *ControlHandler) clients(c *session.Client, _ protocol.ClientsReq) {
	name := c.Username()
	if name == "" {
		_ = c.Send(protocol.ClientsResp{Status: protocol.Fail(protocol.CodeNotLoggedIn)})
		return
	}
	_ = c.Send(protocol.Clients{Clients: h.registry.Usernames(name)})
}

// bye acknowledges, tells the others when the leaver was logged in, and
// closes the connection. The disconnect cascade runs from Unregister.
func (h *ControlHandler) bye(c *session.Client, _ protocol.Bye) {
	_ = c.Send(protocol.ByeResp{Status: protocol.StatusOK})
	if name := c.Username(); name != "" {
		h.others(c, protocol.Left{Username: name})
	}
	h.registry.Unregister(c)
}

func (h *ControlHandler) pong(c *session.Client, _ protocol.Pong) {
	if h.beats == nil {
		_ = c.Send(protocol.PongError{Code: protocol.CodePongWithoutPing})
		return
	}
	h.beats.Pong(c)
}
