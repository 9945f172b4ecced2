package handlers

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/transfer"
)

// DataHandler implements tcp.ConnHandler for the transfer data channel. A
// connection opens with a HandshakeSize-byte handshake naming the session
// token and role, after which the engine splices it with its peer.
type DataHandler struct {
	transfers        *transfer.Engine
	handshakeTimeout time.Duration
	logger           *zap.Logger
}

// NewDataHandler creates a DataHandler.
//
// Precondition: transfers and logger must be non-nil; handshakeTimeout > 0.
func NewDataHandler(transfers *transfer.Engine, handshakeTimeout time.Duration, logger *zap.Logger) *DataHandler {
	return &DataHandler{transfers: transfers, handshakeTimeout: handshakeTimeout, logger: logger}
}

// HandleConn implements tcp.ConnHandler.
//
// Postcondition: Returns once the relay has finished, the session ended, or
// the handshake failed.
func (h *DataHandler) HandleConn(ctx context.Context, conn net.Conn) error {
	addr := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout))
	buf := make([]byte, transfer.HandshakeSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("reading handshake from %s: %w", addr, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	token, role, err := transfer.ParseHandshake(buf)
	if err != nil {
		return fmt.Errorf("handshake from %s: %w", addr, err)
	}

	h.logger.Debug("data connection attached",
		zap.String("remote_addr", addr),
		zap.String("token", token),
		zap.Stringer("role", role),
	)
	if err := h.transfers.Attach(ctx, token, role, conn); err != nil {
		return fmt.Errorf("attaching %s to %s: %w", role, token, err)
	}
	return nil
}
