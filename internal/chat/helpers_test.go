package chat

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testIDs atomic.Uint64

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-memory Transport. Lines pushed with feed are
// returned by ReadLine; everything written is recorded without framing.
type fakeTransport struct {
	addr     string
	lines    chan string
	closedCh chan struct{}
	once     sync.Once

	mu       sync.Mutex
	written  []string
	writeErr error
	closes   int
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		addr:     addr,
		lines:    make(chan string, 64),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) feed(line string) { f.lines <- line }

// hangUp makes the next ReadLine report an orderly close.
func (f *fakeTransport) hangUp() { close(f.lines) }

func (f *fakeTransport) ReadLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-f.closedCh:
		return "", net.ErrClosed
	case <-timer.C:
		return "", ErrReadTimeout
	}
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, strings.TrimSuffix(strings.TrimPrefix(string(p), "\r"), "\n"))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.once.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) output() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTransport) count(line string) int {
	n := 0
	for _, w := range f.output() {
		if w == line {
			n++
		}
	}
	return n
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func newTestRegistry() *Registry {
	return NewRegistry(20, discardLogger(), nil)
}

// newTestSession builds a session on a fake transport and registers it.
// An empty nick lets the registry assign a default one.
func newTestSession(t *testing.T, reg *Registry, nick string) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport("test:" + nick)
	s := newSession(testIDs.Add(1), ft, reg, sessionOptions{poll: 10 * time.Millisecond}, discardLogger())
	s.nickname = nick
	require.True(t, reg.Register(s), "register %q", nick)
	return s, ft
}

func waitForOutput(t *testing.T, ft *fakeTransport, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, line := range ft.output() {
			if strings.Contains(line, want) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "no output containing %q; got %q", want, ft.output())
}

// requireConsistent checks that the live set and the nickname index agree.
func requireConsistent(t require.TestingT, r *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, len(r.sessions), len(r.byNick), "one nickname per live session")
	for nick, s := range r.byNick {
		_, live := r.sessions[s]
		require.True(t, live, "nickname %q maps to a session that is not live", nick)
		require.Equal(t, nick, s.nickname, "index entry disagrees with session nickname")
	}
}
