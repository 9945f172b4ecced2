package transfer

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// HandshakeSize is the length of the data-channel handshake: a 36-character
// session token followed by one role byte.
const HandshakeSize = 37

// Role identifies which half of a transfer a data connection carries.
type Role byte

const (
	RoleSender   Role = 's'
	RoleReceiver Role = 'r'
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	}
	return fmt.Sprintf("role(%q)", byte(r))
}

// ParseHandshake splits a handshake into its token and role.
//
// Postcondition: Returns an error unless b is exactly HandshakeSize bytes
// ending in a valid role byte.
func ParseHandshake(b []byte) (string, Role, error) {
	if len(b) != HandshakeSize {
		return "", 0, fmt.Errorf("handshake is %d bytes, want %d", len(b), HandshakeSize)
	}
	role := Role(b[HandshakeSize-1])
	if role != RoleSender && role != RoleReceiver {
		return "", 0, fmt.Errorf("invalid transfer role %q", b[HandshakeSize-1])
	}
	return string(b[:HandshakeSize-1]), role, nil
}

// Attach binds a data connection to the active session token. The first
// half to arrive is held until its peer attaches or the session ends; the
// second half relays sender bytes to the receiver and closes both ends.
// Attach blocks for the life of the connection or until ctx ends.
//
// Precondition: role is RoleSender or RoleReceiver.
// Postcondition: conn is closed when Attach returns, unless an error is
// returned, in which case the caller owns conn.
func (e *Engine) Attach(ctx context.Context, token string, role Role, conn io.ReadWriteCloser) error {
	s, ok := e.Active(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveTransfer, token)
	}

	s.mu.Lock()
	switch role {
	case RoleSender:
		if s.source != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s %s", ErrRoleTaken, token, role)
		}
		s.source = conn
	case RoleReceiver:
		if s.sink != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s %s", ErrRoleTaken, token, role)
		}
		s.sink = conn
	default:
		s.mu.Unlock()
		return fmt.Errorf("invalid transfer role %s", role)
	}
	ready := s.source != nil && s.sink != nil && !s.relaying
	if ready {
		s.relaying = true
	}
	src, dst := s.source, s.sink
	s.mu.Unlock()

	select {
	case <-s.done:
		// The session ended before or while this half attached.
		_ = conn.Close()
		return nil
	default:
	}

	if !ready {
		e.logger.Debug("transfer half attached, waiting for peer",
			zap.String("token", token), zap.Stringer("role", role))
		select {
		case <-s.done:
		case <-ctx.Done():
			_ = conn.Close()
		}
		return nil
	}

	e.relay(s, src, dst)
	return nil
}

func (e *Engine) relay(s *Session, src io.ReadCloser, dst io.WriteCloser) {
	e.logger.Info("transfer relay started", zap.String("token", s.token))
	buf := make([]byte, e.bufferSize)
	n, err := io.CopyBuffer(dst, src, buf)
	_ = src.Close()
	_ = dst.Close()
	if err != nil {
		e.logger.Warn("transfer relay interrupted",
			zap.String("token", s.token), zap.Int64("bytes", n), zap.Error(err))
	} else {
		e.logger.Info("transfer relay finished", zap.String("token", s.token), zap.Int64("bytes", n))
	}
	s.finish()
}
