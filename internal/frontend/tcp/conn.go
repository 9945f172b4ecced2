package tcp

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// maxLineSize bounds a single inbound frame.
const maxLineSize = 64 * 1024

// LineConn frames a TCP connection as newline-terminated lines. Writes are
// serialized; reads must come from a single goroutine.
type LineConn struct {
	raw     net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewLineConn wraps raw. A zero timeout disables the corresponding deadline.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a LineConn ready for reading and writing.
func NewLineConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *LineConn {
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	return &LineConn{
		raw:          raw,
		scanner:      scanner,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator.
//
// Postcondition: Returns the next line, or an error (io.EOF at end of stream).
func (c *LineConn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
}

// WriteLine sends text followed by "\n".
//
// Precondition: text must not contain a newline.
func (c *LineConn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write([]byte(text + "\n"))
	return err
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.raw.Close()
}
