package testutil

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cory-johannsen/parley/internal/protocol"
)

// LineClient is a control-channel test client speaking newline-framed
// protocol lines over TCP.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      testing.TB
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t testing.TB, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// RemoteAddr returns the local address of the client, which the server sees
// as its peer.
func (c *LineClient) RemoteAddr() string { return c.conn.LocalAddr().String() }

// SendLine writes text followed by "\n".
//
// Precondition: text should not contain trailing newline characters.
func (c *LineClient) SendLine(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(text + "\n")); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Send encodes msg and writes it as one line.
func (c *LineClient) Send(msg protocol.Message) {
	c.t.Helper()
	line, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Command(), err)
	}
	c.SendLine(line)
}

// NextLine reads one line, failing the test on timeout.
//
// Postcondition: Returns the line without its terminator.
func (c *LineClient) NextLine(t testing.TB, timeout time.Duration) string {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("%s: reading line: got %q, error: %v", c.RemoteAddr(), line, err)
	}
	return strings.TrimRight(line, "\r\n")
}

// Next reads and decodes one frame.
func (c *LineClient) Next(t testing.TB, timeout time.Duration) protocol.Message {
	t.Helper()
	line := c.NextLine(t, timeout)
	msg, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("%s: decoding %q: %v", c.RemoteAddr(), line, err)
	}
	return msg
}

// NextSkipping reads frames until one whose command is not in skip arrives.
// Useful for ignoring PING or JOINED frames from concurrent activity.
func (c *LineClient) NextSkipping(t testing.TB, timeout time.Duration, skip ...protocol.Command) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		msg := c.Next(t, time.Until(deadline))
		skipped := false
		for _, cmd := range skip {
			if msg.Command() == cmd {
				skipped = true
				break
			}
		}
		if !skipped {
			return msg
		}
	}
}

// ExpectClosed asserts the server closes the connection within timeout,
// discarding any frames that arrive first.
func (c *LineClient) ExpectClosed(t testing.TB, timeout time.Duration) {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, err := c.reader.ReadString('\n'); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.Fatalf("%s: connection still open after %s", c.RemoteAddr(), timeout)
			}
			return
		}
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
