package handlers

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
)

// rpsStart reports failures only; on success the engine acknowledges the
// challenger itself so the acknowledgement precedes any timeout frame.
func (h *ControlHandler) rpsStart(c *session.Client, msg protocol.RPSStartReq) {
	err := h.games.Start(c, msg.Username)
	if err == nil {
		return
	}
	resp := protocol.RPSStartResp{Status: h.statusOf(c, protocol.CmdRPSStartReq, err)}
	var active *protocol.GameActiveError
	if errors.As(err, &active) {
		resp.Users = active.Players[:]
	}
	_ = c.Send(resp)
}

// rpsChoice reports failures only; a successful choice is answered by
// RPS_END once both players have chosen.
func (h *ControlHandler) rpsChoice(c *session.Client, msg protocol.RPSChoiceReq) {
	if err := h.games.Choose(c, msg.Choice); err != nil {
		_ = c.Send(protocol.RPSChoiceResp{Status: h.statusOf(c, protocol.CmdRPSChoiceReq, err)})
	}
}

func (h *ControlHandler) transferRequest(c *session.Client, msg protocol.TransferReq) {
	if _, err := h.transfers.Request(c, msg); err != nil {
		_ = c.Send(protocol.TransferResp{Status: h.statusOf(c, protocol.CmdTransferReq, err)})
	}
}

func (h *ControlHandler) transferAccept(c *session.Client, msg protocol.TransferAccept) {
	if err := h.transfers.Accept(c, msg.ID); err != nil {
		_ = c.Send(protocol.TransferAcceptResp{Status: h.statusOf(c, protocol.CmdTransferAccept, err)})
	}
}

func (h *ControlHandler) transferReject(c *session.Client, msg protocol.TransferReject) {
	if err := h.transfers.Reject(c, msg.ID); err != nil {
		_ = c.Send(protocol.TransferRejectResp{Status: h.statusOf(c, protocol.CmdTransferReject, err)})
	}
}

// transferChecksum accepts the report from any connection; unknown tokens
// are ignored.
func (h *ControlHandler) transferChecksum(c *session.Client, msg protocol.TransferChecksum) {
	if !h.transfers.ConfirmChecksum(msg.SessionUUID, msg.Checksum) {
		h.logger.Debug("checksum for unknown transfer",
			zap.Uint64("client", c.ID()),
			zap.String("token", msg.SessionUUID),
		)
	}
}
