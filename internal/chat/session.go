package chat

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Session is the server side of one connected client.
type Session struct {
	id        uint64
	transport Transport
	out       outbound
	reg       *Registry
	logger    *slog.Logger

	poll   time.Duration
	prompt string
	wire   bool // client speaks encoded Messages instead of line commands

	mu       sync.RWMutex // protects nickname; written only by the registry
	nickname string

	alive         atomic.Bool
	stopOnce      sync.Once
	promptPending atomic.Bool
}

type sessionOptions struct {
	poll   time.Duration
	prompt string
	wire   bool
}

func newSession(id uint64, t Transport, reg *Registry, opts sessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.poll <= 0 {
		opts.poll = time.Second
	}
	s := &Session{
		id:        id,
		transport: t,
		out:       outbound{t: t},
		reg:       reg,
		logger:    logger,
		poll:      opts.poll,
		prompt:    opts.prompt,
		wire:      opts.wire,
	}
	s.alive.Store(true)
	return s
}

func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

func (s *Session) setNickname(nick string) {
	s.mu.Lock()
	s.nickname = nick
	s.mu.Unlock()
}

// Alive reports whether Stop has not been called yet.
func (s *Session) Alive() bool { return s.alive.Load() }

func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// Send writes one line to the client. Delivery is best-effort: nothing is
// retried, and a peer that is gone or stopped reading gets the session
// stopped so its read loop schedules the removal.
func (s *Session) Send(text string) {
	if !s.alive.Load() {
		return
	}
	err := s.out.writeLine(text)
	s.promptPending.Store(true)
	if err == nil {
		return
	}
	SendFailuresTotal.Inc()
	if isPeerGone(err) {
		s.Stop()
		return
	}
	s.logger.Warn("send failed", "session", s.id, "nickname", s.Nickname(), "error", err)
}

// Stop marks the session dead and releases its transport. Only the first call
// has any effect.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.alive.Store(false)
		if err := s.transport.Close(); err != nil && !isPeerGone(err) {
			s.logger.Debug("transport close", "session", s.id, "error", err)
		}
	})
}

func (s *Session) sendPrompt() {
	if s.prompt == "" || !s.promptPending.Swap(false) {
		return
	}
	if err := s.out.writeRaw([]byte(s.prompt)); err != nil {
		s.promptPending.Store(true)
	}
}

// readLoop runs in the session's own goroutine. Its last act is to schedule
// its own removal; the accept loop performs the actual unregister.
func (s *Session) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session handler panicked", "session", s.id, "nickname", s.Nickname(), "panic", r)
		}
		s.Stop()
		s.reg.ScheduleRemoval(s)
		s.logger.Debug("session read loop exited", "session", s.id)
	}()

	s.promptPending.Store(true)
	for s.alive.Load() {
		s.sendPrompt()

		line, err := s.transport.ReadLine(s.poll)
		if !s.alive.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			s.logReadError(err)
			return
		}

		line = stripLineTerminators(line)
		if line == "" {
			continue
		}
		if s.wire {
			s.reg.HandleWire(s, line)
		} else {
			s.reg.HandleLine(s, line)
		}
		s.promptPending.Store(true)
	}
}

func (s *Session) logReadError(err error) {
	nick := s.Nickname()
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("client disconnected", "session", s.id, "nickname", nick)
	case errors.Is(err, syscall.ECONNRESET):
		s.logger.Info("client reset connection", "session", s.id, "nickname", nick)
	default:
		s.logger.Warn("read failed", "session", s.id, "nickname", nick, "error", err)
	}
}

func stripLineTerminators(line string) string {
	if !strings.ContainsAny(line, "\r\n") {
		return line
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(line)
}
