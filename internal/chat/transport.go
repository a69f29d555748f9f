package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Transport is the byte stream a Session is bound to.
type Transport interface {
	// ReadLine waits at most timeout for one complete line. It returns
	// ErrReadTimeout when the wait expires, io.EOF on orderly close.
	ReadLine(timeout time.Duration) (string, error)
	Write(p []byte) error
	// Close half-closes the write side where supported, then releases the
	// connection.
	Close() error
	RemoteAddr() string
}

// maxLineBytes bounds one inbound line. Longer input is delivered in pieces
// of roughly this size.
const maxLineBytes = 1024

// defaultWriteTimeout bounds a single write to a client that stopped reading.
const defaultWriteTimeout = 5 * time.Second

type tcpTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	partial      strings.Builder
	writeTimeout time.Duration
}

func newTCPTransport(conn net.Conn, writeTimeout time.Duration) *tcpTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &tcpTransport{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, maxLineBytes),
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) ReadLine(timeout time.Duration) (string, error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
	}
	chunk, err := t.reader.ReadSlice('\n')
	t.partial.Write(chunk)
	if err != nil && t.partial.Len() >= maxLineBytes {
		// overlong line: hand out what is buffered instead of growing
		return t.takeLine(), nil
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", ErrReadTimeout
		}
		if errors.Is(err, io.EOF) && t.partial.Len() > 0 {
			// last line without newline; EOF surfaces on the next call
			return t.takeLine(), nil
		}
		return "", err
	}
	return t.takeLine(), nil
}

func (t *tcpTransport) takeLine() string {
	line := t.partial.String()
	t.partial.Reset()
	return line
}

func (t *tcpTransport) Write(p []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *tcpTransport) Close() error {
	if tc, ok := t.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
