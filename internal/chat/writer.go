package chat

import (
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
)

// outbound serializes writes to one transport. The read loop (prompt, replies)
// and registry broadcasts may write to the same session concurrently.
type outbound struct {
	mu sync.Mutex
	t  Transport
}

// writeLine frames text as "\r" + text + "\n". The leading carriage return
// overwrites a pending input prompt on the remote terminal.
func (o *outbound) writeLine(text string) error {
	buf := make([]byte, 0, len(text)+2)
	buf = append(buf, '\r')
	buf = append(buf, text...)
	buf = append(buf, '\n')
	return o.writeRaw(buf)
}

func (o *outbound) writeRaw(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.t.Write(p)
}

// isPeerGone reports errors expected when the remote side has disconnected
// or has stopped reading long enough for a write deadline to fire.
func isPeerGone(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}
