// Package audit records notable protocol outcomes: logins, logouts,
// finished games and finished transfers.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	KindLogin    Kind = "login"
	KindLogout   Kind = "logout"
	KindGame     Kind = "game"
	KindTransfer Kind = "transfer"
)

// Outcomes of games and transfers.
const (
	OutcomeWin        = "win"
	OutcomeDraw       = "draw"
	OutcomeTimeout    = "timeout"
	OutcomeDisconnect = "disconnect"
	OutcomeSuccess    = "success"
	OutcomeMismatch   = "checksum_mismatch"
	OutcomeRejected   = "rejected"
)

// Event is one audit record.
type Event struct {
	Kind        Kind
	Actor       string
	Counterpart string
	// Subject is the filename of a transfer or the winner of a game.
	Subject string
	Outcome string
	At      time.Time
}

// Recorder accepts events. Record must not block the caller.
type Recorder interface {
	Record(e Event)
}

// Sink persists events. Write may block.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Record does nothing.
func (Nop) Record(Event) {}

// LogRecorder writes events to a zap logger at info level.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder.
//
// Precondition: logger must not be nil.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs e.
func (r *LogRecorder) Record(e Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("actor", e.Actor),
		zap.Time("at", e.At),
	}
	if e.Counterpart != "" {
		fields = append(fields, zap.String("counterpart", e.Counterpart))
	}
	if e.Subject != "" {
		fields = append(fields, zap.String("subject", e.Subject))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", e.Outcome))
	}
	r.logger.Info("audit", fields...)
}

// Multi fans an event out to every recorder in order.
type Multi []Recorder

// Record forwards e to each recorder.
func (m Multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}
