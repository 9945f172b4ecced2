package testutil

import (
	"testing"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/session"
)

// NewClient registers a client backed by a FakeTransport and, if username is
// non-empty, logs it in.
//
// Postcondition: Returns the client and its transport, or fails the test.
func NewClient(t testing.TB, reg *session.Registry, username string, logger *zap.Logger) (*session.Client, *FakeTransport) {
	t.Helper()
	addr := username
	if addr == "" {
		addr = "anonymous"
	}
	tr := NewFakeTransport(addr)
	c := session.NewClient(reg.NextID(), tr, 64, logger)
	reg.Register(c)
	if username != "" {
		if err := reg.Authenticate(username, c); err != nil {
			t.Fatalf("authenticating %q: %v", username, err)
		}
	}
	return c, tr
}
