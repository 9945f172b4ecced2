// Package timeout provides a deferred, cancellable check against a session
// whose mutations are serialized by the session's own lock.
package timeout

import (
	"sync"
	"sync/atomic"
	"time"
)

// Binding is one scheduled check of a session. It fires at most once.
// It is safe for concurrent use.
type Binding struct {
	timer     *time.Timer
	cancelled atomic.Bool
	fired     atomic.Bool
}

// Arm schedules a check of session after d. When the check runs it holds
// session's lock, evaluates isSatisfied and, only if that returns false,
// calls onTimeout under the same lock.
//
// Callers that complete the session normally must take the same lock and
// call Cancel while holding it; exactly one of normal completion or
// onTimeout then takes effect.
//
// Precondition: d > 0; isSatisfied and onTimeout must not be nil and must not
// lock session themselves.
// Postcondition: Returns an armed Binding.
func Arm[S sync.Locker](session S, isSatisfied func(S) bool, onTimeout func(S), d time.Duration) *Binding {
	b := &Binding{}
	b.timer = time.AfterFunc(d, func() {
		session.Lock()
		defer session.Unlock()
		if b.cancelled.Load() {
			return
		}
		b.fired.Store(true)
		if isSatisfied(session) {
			return
		}
		onTimeout(session)
	})
	return b
}

// Cancel prevents a check that has not yet run from taking effect. Calling
// Cancel after the check has run, or more than once, is a no-op.
//
// Postcondition: Returns true if the check had not run before this call.
func (b *Binding) Cancel() bool {
	if b == nil {
		return false
	}
	if b.cancelled.Swap(true) {
		return false
	}
	b.timer.Stop()
	return !b.fired.Load()
}

// Fired reports whether the check has run.
func (b *Binding) Fired() bool {
	return b != nil && b.fired.Load()
}
