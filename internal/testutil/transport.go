package testutil

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cory-johannsen/parley/internal/protocol"
)

// FakeTransport is an in-memory line transport. Lines fed with Feed are
// returned by ReadLine; lines written by the server are captured for Expect.
type FakeTransport struct {
	addr string
	in   chan string
	out  chan string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFakeTransport returns an open FakeTransport reporting addr as its peer.
func NewFakeTransport(addr string) *FakeTransport {
	return &FakeTransport{
		addr:   addr,
		in:     make(chan string, 64),
		out:    make(chan string, 256),
		closed: make(chan struct{}),
	}
}

// ReadLine blocks until a line is fed or the transport is closed.
func (f *FakeTransport) ReadLine() (string, error) {
	select {
	case line := <-f.in:
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

// WriteLine captures line.
func (f *FakeTransport) WriteLine(line string) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case f.out <- line:
		return nil
	default:
		return fmt.Errorf("fake transport %s: capture buffer full", f.addr)
	}
}

// RemoteAddr returns the configured address.
func (f *FakeTransport) RemoteAddr() string { return f.addr }

// Close unblocks ReadLine. Safe to call multiple times.
func (f *FakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (f *FakeTransport) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Feed queues line for ReadLine.
func (f *FakeTransport) Feed(line string) { f.in <- line }

// NextLine returns the next captured line or fails the test after timeout.
func (f *FakeTransport) NextLine(t testing.TB, timeout time.Duration) string {
	t.Helper()
	select {
	case line := <-f.out:
		return line
	case <-time.After(timeout):
		t.Fatalf("%s: no frame written within %s", f.addr, timeout)
		return ""
	}
}

// Next decodes the next captured line.
func (f *FakeTransport) Next(t testing.TB, timeout time.Duration) protocol.Message {
	t.Helper()
	line := f.NextLine(t, timeout)
	msg, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("%s: decoding %q: %v", f.addr, line, err)
	}
	return msg
}

// NoFrame fails the test if a line is written within d.
func (f *FakeTransport) NoFrame(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case line := <-f.out:
		t.Fatalf("%s: unexpected frame %q", f.addr, line)
	case <-time.After(d):
	}
}

// Source yields decoded frames written to one peer.
type Source interface {
	Next(t testing.TB, timeout time.Duration) protocol.Message
	RemoteAddr() string
}

// Expect decodes the next frame from src and asserts its payload type.
func Expect[T protocol.Message](t testing.TB, src Source, timeout time.Duration) T {
	t.Helper()
	msg := src.Next(t, timeout)
	got, ok := msg.(T)
	if !ok {
		var want T
		t.Fatalf("%s: expected %s, got %s %#v", src.RemoteAddr(), want.Command(), msg.Command(), msg)
	}
	return got
}
