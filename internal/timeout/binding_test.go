package timeout_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/parley/internal/timeout"
)

type session struct {
	sync.Mutex
	done     bool
	timedOut int
}

func never(*session) bool { return false }

func TestArm_FiresWhenUnsatisfied(t *testing.T) {
	s := &session{}
	fired := make(chan struct{})
	b := timeout.Arm(s, never, func(s *session) {
		s.timedOut++
		close(fired)
	}, 10*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout action did not run")
	}
	assert.True(t, b.Fired())
	s.Lock()
	assert.Equal(t, 1, s.timedOut)
	s.Unlock()
}

func TestArm_SkipsWhenSatisfied(t *testing.T) {
	s := &session{done: true}
	var called atomic.Int32
	b := timeout.Arm(s, func(s *session) bool { return s.done }, func(*session) {
		called.Add(1)
	}, 10*time.Millisecond)

	require.Eventually(t, b.Fired, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), called.Load())
}

func TestCancel_PreventsAction(t *testing.T) {
	s := &session{}
	var called atomic.Int32
	b := timeout.Arm(s, never, func(*session) { called.Add(1) }, 30*time.Millisecond)

	assert.True(t, b.Cancel())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), called.Load())
	assert.False(t, b.Fired())
}

func TestCancel_AfterFireIsNoop(t *testing.T) {
	s := &session{}
	b := timeout.Arm(s, never, func(*session) {}, 5*time.Millisecond)
	require.Eventually(t, b.Fired, time.Second, 5*time.Millisecond)

	assert.False(t, b.Cancel())
	assert.False(t, b.Cancel())
}

func TestCancel_NilBinding(t *testing.T) {
	var b *timeout.Binding
	assert.False(t, b.Cancel())
	assert.False(t, b.Fired())
}

func TestCancel_UnderLockBlocksPendingFire(t *testing.T) {
	s := &session{}
	var called atomic.Int32
	b := timeout.Arm(s, never, func(*session) { called.Add(1) }, 5*time.Millisecond)

	// Hold the session lock across the deadline so the check queues behind us.
	s.Lock()
	time.Sleep(30 * time.Millisecond)
	b.Cancel()
	s.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), called.Load())
}

// Property-based tests

func TestPropertyCompletionAndTimeoutAreExclusive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		delay := time.Duration(rapid.IntRange(0, 2000).Draw(t, "delay_us")) * time.Microsecond
		s := &session{}
		var completed, timedOut atomic.Int32

		b := timeout.Arm(s, func(s *session) bool { return s.done }, func(s *session) {
			s.done = true
			timedOut.Add(1)
		}, time.Millisecond)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(delay)
			s.Lock()
			defer s.Unlock()
			if s.done {
				return
			}
			b.Cancel()
			s.done = true
			completed.Add(1)
		}()
		wg.Wait()

		// Let a concurrently queued check drain.
		time.Sleep(3 * time.Millisecond)
		if total := completed.Load() + timedOut.Load(); total != 1 {
			t.Fatalf("expected exactly one outcome, got completed=%d timedOut=%d", completed.Load(), timedOut.Load())
		}
	})
}
