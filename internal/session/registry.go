package session

import (
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/observability"
	"github.com/cory-johannsen/parley/internal/protocol"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,14}$`)

// ValidUsername reports whether name is 3 to 14 letters, digits or underscores.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// DisconnectListener resolves state that references a departing client.
type DisconnectListener interface {
	OnDisconnect(c *Client)
}

// DisconnectFunc adapts a function to DisconnectListener.
type DisconnectFunc func(c *Client)

// OnDisconnect calls f(c).
func (f DisconnectFunc) OnDisconnect(c *Client) { f(c) }

// Registry is the set of connected clients and the username index of the
// authenticated ones. All methods are safe for concurrent use.
type Registry struct {
	logger *zap.Logger
	nextID atomic.Uint64

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	users     map[string]*Client
	listeners []DisconnectListener
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must not be nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		clients: make(map[*Client]struct{}),
		users:   make(map[string]*Client),
	}
}

// AddListener subscribes l to the disconnect cascade. Listeners run in the
// order they were added.
func (r *Registry) AddListener(l DisconnectListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// NextID returns a fresh connection identifier.
func (r *Registry) NextID() uint64 { return r.nextID.Add(1) }

// Register adds c to the set of connected clients.
//
// Postcondition: c is tracked until Unregister.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	clients, authed := len(r.clients), len(r.users)
	r.mu.Unlock()
	observability.LogClientCount(r.logger, clients, authed)
}

// Authenticate binds username to c. The checks run in order under one lock:
// c already named, username format, username taken.
//
// Postcondition: Returns nil and c is indexed by username, or one of
// protocol.ErrAlreadyLoggedIn, protocol.ErrInvalidUsername,
// protocol.ErrUsernameTaken with no state changed.
func (r *Registry) Authenticate(username string, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Authenticated() {
		return protocol.ErrAlreadyLoggedIn
	}
	if !ValidUsername(username) {
		return protocol.ErrInvalidUsername
	}
	if _, taken := r.users[username]; taken {
		return protocol.ErrUsernameTaken
	}
	if _, ok := r.clients[c]; !ok || !c.Alive() {
		// Raced with unregister; the connection is already gone.
		return protocol.ErrNotLoggedIn
	}
	c.setUsername(username)
	r.users[username] = c
	return nil
}

// Lookup returns the client logged in as username.
func (r *Registry) Lookup(username string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.users[username]
	return c, ok
}

// Authenticated returns a snapshot of logged-in clients sorted by username.
func (r *Registry) Authenticated() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.users))
	for _, c := range r.users {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}

// Usernames returns the sorted logged-in usernames, excluding except.
func (r *Registry) Usernames(except string) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		if name != except {
			out = append(out, name)
		}
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Counts returns the number of connected and authenticated clients.
func (r *Registry) Counts() (clients, authenticated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.users)
}

// Unregister removes c and runs the disconnect cascade. Only the first call
// for a given client has any effect.
//
// Postcondition: c is in neither index, every listener has observed it, and
// c is closed.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	if name := c.Username(); name != "" && r.users[name] == c {
		delete(r.users, name)
	}
	c.markGone()
	listeners := append([]DisconnectListener(nil), r.listeners...)
	clients, authed := len(r.clients), len(r.users)
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnDisconnect(c)
	}
	_ = c.Close()

	r.logger.Info("client disconnected",
		zap.Uint64("client", c.ID()),
		zap.String("username", c.Username()))
	observability.LogClientCount(r.logger, clients, authed)
}
