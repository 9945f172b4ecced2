package session_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/testutil"
)

const wait = time.Second

func newClient(t *testing.T, r *session.Registry, addr string) (*session.Client, *testutil.FakeTransport) {
	t.Helper()
	tr := testutil.NewFakeTransport(addr)
	c := session.NewClient(r.NextID(), tr, 16, zaptest.NewLogger(t))
	r.Register(c)
	return c, tr
}

func TestClient_SendIsFlushedBeforeClose(t *testing.T) {
	tr := testutil.NewFakeTransport("peer")
	c := session.NewClient(1, tr, 8, zaptest.NewLogger(t))

	require.NoError(t, c.Send(protocol.Ping{}))
	require.NoError(t, c.Send(protocol.Hangup{Reason: protocol.CodeNoPongReceived}))
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(wait):
		t.Fatal("writer did not finish")
	}
	assert.Equal(t, "PING", tr.NextLine(t, wait))
	assert.Equal(t, `HANGUP {"reason":7000}`, tr.NextLine(t, wait))
	assert.True(t, tr.Closed())
	assert.False(t, c.Alive())
}

func TestClient_SendAfterClose(t *testing.T) {
	tr := testutil.NewFakeTransport("peer")
	c := session.NewClient(1, tr, 8, zaptest.NewLogger(t))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(protocol.Ping{}), session.ErrClientClosed)
}

func TestRegistry_AuthenticateOrder(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	alice, _ := newClient(t, r, "a")
	other, _ := newClient(t, r, "b")

	require.NoError(t, r.Authenticate("alice", alice))
	assert.Equal(t, "alice", alice.Username())

	// already named beats every other check
	assert.ErrorIs(t, r.Authenticate("x", alice), protocol.ErrAlreadyLoggedIn)
	assert.ErrorIs(t, r.Authenticate("alice", alice), protocol.ErrAlreadyLoggedIn)

	assert.ErrorIs(t, r.Authenticate("al", other), protocol.ErrInvalidUsername)
	assert.ErrorIs(t, r.Authenticate("alice", other), protocol.ErrUsernameTaken)
	assert.False(t, other.Authenticated())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)
}

func TestRegistry_UsernamesAreCaseSensitive(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	a, _ := newClient(t, r, "a")
	b, _ := newClient(t, r, "b")
	require.NoError(t, r.Authenticate("alice", a))
	require.NoError(t, r.Authenticate("Alice", b))
}

func TestRegistry_ConcurrentAuthenticateSameName(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	const n = 32
	clients := make([]*session.Client, n)
	for i := range clients {
		clients[i], _ = newClient(t, r, fmt.Sprintf("c%d", i))
	}

	var ok, taken atomic.Int32
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *session.Client) {
			defer wg.Done()
			switch err := r.Authenticate("bob", c); err {
			case nil:
				ok.Add(1)
			case protocol.ErrUsernameTaken:
				taken.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), taken.Load())
}

func TestRegistry_UnregisterRunsCascadeOnce(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	var calls atomic.Int32
	r.AddListener(session.DisconnectFunc(func(c *session.Client) {
		assert.False(t, c.Alive())
		calls.Add(1)
	}))

	c, tr := newClient(t, r, "a")
	require.NoError(t, r.Authenticate("alice", c))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Unregister(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	_, found := r.Lookup("alice")
	assert.False(t, found)
	clients, authed := r.Counts()
	assert.Zero(t, clients)
	assert.Zero(t, authed)
	require.Eventually(t, tr.Closed, wait, 5*time.Millisecond)
}

func TestRegistry_UnregisterUnauthenticated(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	c, _ := newClient(t, r, "a")
	r.Unregister(c)
	clients, _ := r.Counts()
	assert.Zero(t, clients)
}

func TestRegistry_AuthenticateAfterUnregister(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	c, _ := newClient(t, r, "a")
	r.Unregister(c)
	assert.Error(t, r.Authenticate("alice", c))
	_, found := r.Lookup("alice")
	assert.False(t, found)
}

func TestRegistry_NameFreedAfterUnregister(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	a, _ := newClient(t, r, "a")
	require.NoError(t, r.Authenticate("alice", a))
	r.Unregister(a)

	b, _ := newClient(t, r, "b")
	assert.NoError(t, r.Authenticate("alice", b))
}

func TestRegistry_Snapshots(t *testing.T) {
	r := session.NewRegistry(zaptest.NewLogger(t))
	for _, name := range []string{"carol", "alice", "bob"} {
		c, _ := newClient(t, r, name)
		require.NoError(t, r.Authenticate(name, c))
	}
	_, _ = newClient(t, r, "anon")

	names := make([]string, 0, 3)
	for _, c := range r.Authenticated() {
		names = append(names, c.Username())
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
	assert.Equal(t, []string{"alice", "carol"}, r.Usernames("bob"))

	clients, authed := r.Counts()
	assert.Equal(t, 4, clients)
	assert.Equal(t, 3, authed)
}

// Property-based tests

func TestPropertyValidUsernames(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z0-9_]{3,14}`).Draw(t, "name")
		if !session.ValidUsername(name) {
			t.Fatalf("valid username %q rejected", name)
		}
	})
}

func TestPropertyInvalidUsernames(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.OneOf(
			rapid.StringMatching(`[A-Za-z0-9_]{0,2}`),
			rapid.StringMatching(`[A-Za-z0-9_]{15,30}`),
			rapid.StringMatching(`[A-Za-z0-9_]{1,6}[ \-.!@][A-Za-z0-9_]{1,6}`),
		).Draw(t, "name")
		if session.ValidUsername(name) {
			t.Fatalf("invalid username %q accepted", name)
		}
	})
}

func TestPropertyUsernameMapsToOneClient(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := session.NewRegistry(zaptest.NewLogger(t))
		names := rapid.SliceOfN(rapid.SampledFrom([]string{"alice", "bob", "carol"}), 1, 12).Draw(rt, "names")
		for i, name := range names {
			c := session.NewClient(r.NextID(), testutil.NewFakeTransport(fmt.Sprint(i)), 4, zaptest.NewLogger(t))
			r.Register(c)
			_ = r.Authenticate(name, c)
		}
		seen := map[string]bool{}
		for _, c := range r.Authenticated() {
			if seen[c.Username()] {
				rt.Fatalf("username %q bound twice", c.Username())
			}
			seen[c.Username()] = true
		}
		_, authed := r.Counts()
		if authed != len(seen) {
			rt.Fatalf("authenticated count %d != distinct names %d", authed, len(seen))
		}
	})
}
