package chat

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWebSocket upgrades the request and adopts the connection as a
// session that exchanges encoded Messages, one per text frame.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server is not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("client connected", "addr", conn.RemoteAddr().String(), "transport", "websocket")
	s.adopt(newWSTransport(conn, s.cfg.WriteTimeout), true)
}

// wsTransport adapts a websocket connection to Transport. Gorilla connections
// are unusable after a read deadline fires, so a pump goroutine owns reads
// and ReadLine waits on its channel instead.
type wsTransport struct {
	conn         *websocket.Conn
	lines        chan string
	readErr      error // set before lines is closed
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	t := &wsTransport{
		conn:         conn,
		lines:        make(chan string, 16),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go t.pump()
	return t
}

func (t *wsTransport) pump() {
	defer close(t.lines)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr = err
			return
		}
		select {
		case t.lines <- string(data):
		case <-t.done:
			t.readErr = net.ErrClosed
			return
		}
	}
}

func (t *wsTransport) ReadLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", t.closedErr()
		}
		return line, nil
	case <-timer.C:
		return "", ErrReadTimeout
	}
}

func (t *wsTransport) closedErr() error {
	err := t.readErr
	if err == nil ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

// Write sends p as one text frame without the line framing added for
// terminals.
func (t *wsTransport) Write(p []byte) error {
	text := strings.TrimSuffix(strings.TrimPrefix(string(p), "\r"), "\n")
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
