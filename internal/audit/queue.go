package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue is a Recorder that hands events to a Sink on a background
// goroutine. Events are dropped when the queue is full.
type Queue struct {
	sink         Sink
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	events chan Event
	closed bool

	done chan struct{}
}

// NewQueue creates a Queue holding at most size pending events.
//
// Precondition: sink and logger must not be nil.
func NewQueue(sink Sink, size int, writeTimeout time.Duration, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Queue{
		sink:         sink,
		writeTimeout: writeTimeout,
		logger:       logger,
		events:       make(chan Event, size),
		done:         make(chan struct{}),
	}
}

// Record enqueues e without blocking.
func (q *Queue) Record(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.events <- e:
	default:
		q.logger.Warn("audit queue full, dropping event", zap.String("kind", string(e.Kind)))
	}
}

// Run writes queued events until Close is called and the queue is drained.
func (q *Queue) Run() {
	defer close(q.done)
	for e := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), q.writeTimeout)
		if err := q.sink.Write(ctx, e); err != nil {
			q.logger.Error("writing audit event", zap.String("kind", string(e.Kind)), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for Run to drain the queue or
// for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
