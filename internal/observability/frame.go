package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Direction marks which way a frame travelled relative to the server.
type Direction string

const (
	// Inbound frames were read from a peer.
	Inbound Direction = "-->"
	// Outbound frames were written to a peer.
	Outbound Direction = "<--"
)

// FrameEntry is one logged protocol frame.
type FrameEntry struct {
	Direction  Direction
	RemoteAddr string
	// Username is empty for connections that have not entered.
	Username string
	Command  string
	Payload  string
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e FrameEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("direction", string(e.Direction))
	enc.AddString("remote_addr", e.RemoteAddr)
	if e.Username != "" {
		enc.AddString("username", e.Username)
	}
	enc.AddString("command", e.Command)
	if e.Payload != "" {
		enc.AddString("payload", e.Payload)
	}
	return nil
}

// Log writes the entry at debug level.
func (e FrameEntry) Log(logger *zap.Logger) {
	if ce := logger.Check(zapcore.DebugLevel, "frame"); ce != nil {
		ce.Write(zap.Object("frame", e))
	}
}
