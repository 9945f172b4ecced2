package dispatch_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/parley/internal/dispatch"
	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/testutil"
)

const wait = time.Second

type harness struct {
	registry *session.Registry
	table    *dispatch.Table
	client   *session.Client
	tr       *testutil.FakeTransport
	done     chan error
}

func start(t *testing.T, role dispatch.Role, table *dispatch.Table) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := session.NewRegistry(logger)
	tr := testutil.NewFakeTransport("peer")
	c := session.NewClient(reg.NextID(), tr, 16, logger)
	reg.Register(c)

	h := &harness{registry: reg, table: table, client: c, tr: tr, done: make(chan error, 1)}
	d := dispatch.New(table, role, reg.Unregister, logger)
	go func() { h.done <- d.Run(context.Background(), c) }()
	t.Cleanup(func() {
		_ = tr.Close()
		<-h.done
		<-c.Done()
	})
	return h
}

func TestRun_RoutesToTypedHandler(t *testing.T) {
	table := dispatch.NewTable()
	got := make(chan protocol.Enter, 1)
	table.Register(protocol.CmdEnter, dispatch.On(func(_ *session.Client, m protocol.Enter) {
		got <- m
	}))
	h := start(t, dispatch.RoleServer, table)

	h.tr.Feed(`  ENTER {"username":"alice"}  `)
	select {
	case m := <-got:
		assert.Equal(t, "alice", m.Username)
	case <-time.After(wait):
		t.Fatal("handler not invoked")
	}
}

func TestRun_IgnoresBlankLines(t *testing.T) {
	table := dispatch.NewTable()
	var pings atomic.Int32
	table.Register(protocol.CmdPong, dispatch.On(func(*session.Client, protocol.Pong) { pings.Add(1) }))
	h := start(t, dispatch.RoleServer, table)

	h.tr.Feed("")
	h.tr.Feed("   ")
	h.tr.Feed("PONG")
	require.Eventually(t, func() bool { return pings.Load() == 1 }, wait, 5*time.Millisecond)
	h.tr.NoFrame(t, 20*time.Millisecond)
}

func TestRun_ServerReportsDecodeFailures(t *testing.T) {
	h := start(t, dispatch.RoleServer, dispatch.NewTable())

	h.tr.Feed("NOPE")
	testutil.Expect[protocol.UnknownCommandMsg](t, h.tr, wait)

	h.tr.Feed(`ENTER {"username":`)
	testutil.Expect[protocol.ParseErrorMsg](t, h.tr, wait)

	assert.True(t, h.client.Alive())
}

func TestRun_ClientDropsDecodeFailures(t *testing.T) {
	h := start(t, dispatch.RoleClient, dispatch.NewTable())
	h.tr.Feed("NOPE")
	h.tr.NoFrame(t, 30*time.Millisecond)
}

func TestRun_UnregisteredCommandIsDropped(t *testing.T) {
	h := start(t, dispatch.RoleServer, dispatch.NewTable())
	h.tr.Feed("BYE")
	h.tr.NoFrame(t, 30*time.Millisecond)
	assert.True(t, h.client.Alive())
}

func TestRun_UnregistersOnEOF(t *testing.T) {
	h := start(t, dispatch.RoleServer, dispatch.NewTable())
	require.NoError(t, h.registry.Authenticate("alice", h.client))

	_ = h.tr.Close()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("dispatcher did not stop")
	}
	h.done <- nil
	_, found := h.registry.Lookup("alice")
	assert.False(t, found)
	assert.False(t, h.client.Alive())
}

func TestRun_ContextCancelReleases(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := session.NewRegistry(logger)
	tr := testutil.NewFakeTransport("peer")
	c := session.NewClient(reg.NextID(), tr, 4, logger)
	reg.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatch.New(dispatch.NewTable(), dispatch.RoleServer, reg.Unregister, logger).Run(ctx, c) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(wait):
		t.Fatal("dispatcher did not stop on cancel")
	}
	clients, _ := reg.Counts()
	assert.Zero(t, clients)
	<-c.Done()
}

func TestTable_RegisterReplaces(t *testing.T) {
	table := dispatch.NewTable()
	var which atomic.Int32
	table.Register(protocol.CmdBye, dispatch.HandlerFunc(func(*session.Client, protocol.Message) { which.Store(1) }))
	table.Register(protocol.CmdBye, dispatch.HandlerFunc(func(*session.Client, protocol.Message) { which.Store(2) }))
	assert.Equal(t, 1, table.Len())

	h, ok := table.Lookup(protocol.CmdBye)
	require.True(t, ok)
	h.Handle(nil, protocol.Bye{})
	assert.Equal(t, int32(2), which.Load())
}
