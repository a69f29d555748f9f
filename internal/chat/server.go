package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andy6609/linechat/internal/eventlog"
)

const shutdownNotice = "[System] Server is shutting down. Disconnecting..."

// Config controls one Server.
type Config struct {
	Addr          string
	HTTPAddr      string // empty disables /metrics, /healthz, /users and WebSocket
	WebSocketPath string
	PollInterval  time.Duration
	WriteTimeout  time.Duration // per write to a TCP client
	MaxNickname   int
	Prompt        string
}

func DefaultConfig() Config {
	return Config{
		Addr:          ":55555",
		HTTPAddr:      ":9090",
		WebSocketPath: "/ws",
		PollInterval:  time.Second,
		WriteTimeout:  defaultWriteTimeout,
		MaxNickname:   20,
		Prompt:        "> ",
	}
}

type serverState int

const (
	stateNew serverState = iota
	stateRunning
	stateStopped
)

type Server struct {
	cfg    Config
	logger *slog.Logger
	events eventlog.Sink
	reg    *Registry

	mu       sync.Mutex // guards state, listener, httpSrv
	state    serverState
	listener *net.TCPListener
	httpSrv  *http.Server

	running atomic.Bool
	done    chan struct{}
	nextID  atomic.Uint64
	started time.Time
}

func NewServer(cfg Config, logger *slog.Logger, events eventlog.Sink) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventlog.Discard
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = "/ws"
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		events: events,
		reg:    NewRegistry(cfg.MaxNickname, logger, events),
		done:   make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Addr returns the bound chat address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listeners and launches the accept loop. Nothing is left
// running when it returns an error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNew {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("listen %s: not a TCP listener", s.cfg.Addr)
	}

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			tcpLn.Close()
			return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	s.listener = tcpLn
	s.state = stateRunning
	s.started = time.Now()
	s.running.Store(true)

	go s.acceptLoop(tcpLn)

	if httpLn != nil {
		s.httpSrv = &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func(srv *http.Server) {
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server failed", "error", err)
			}
		}(s.httpSrv)
		s.logger.Info("http listening", "addr", httpLn.Addr().String())
	}

	s.logger.Info("server started", "addr", tcpLn.Addr().String())
	s.events.Log("Server started on " + tcpLn.Addr().String())
	return nil
}

// Stop shuts the server down. It is a no-op before Start and after the first
// call. Closing the listener wakes the accept loop, which notifies and stops
// every session on its way out. Only the accept loop is joined; session read
// loops finish on their own.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	s.running.Store(false)
	ln, httpSrv := s.listener, s.httpSrv
	s.mu.Unlock()

	s.logger.Info("shutting down")

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("listener close", "error", err)
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}

	<-s.done

	s.events.Log("Server stopped")
	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln *net.TCPListener) {
	defer close(s.done)

	for s.running.Load() {
		s.reg.DrainScheduledRemovals()

		_ = ln.SetDeadline(time.Now().Add(s.cfg.PollInterval))
		conn, err := ln.Accept()
		if !s.running.Load() {
			if conn != nil {
				conn.Close()
			}
			break
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			s.events.Log("Accept failed: " + err.Error())
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.logger.Info("client connected", "addr", conn.RemoteAddr().String())
		s.adopt(newTCPTransport(conn, s.cfg.WriteTimeout), false)
	}

	s.reg.StopAll(shutdownNotice)
	s.reg.DrainScheduledRemovals()
	s.logger.Debug("accept loop exited")
}

// adopt turns an accepted transport into a registered, running session.
func (s *Server) adopt(t Transport, wire bool) *Session {
	if !s.running.Load() {
		_ = t.Close()
		return nil
	}

	opts := sessionOptions{poll: s.cfg.PollInterval, prompt: s.cfg.Prompt, wire: wire}
	if wire {
		opts.prompt = ""
	}
	sess := newSession(s.nextID.Add(1), t, s.reg, opts, s.logger)
	if !s.reg.Register(sess) {
		s.logger.Warn("connection already registered", "addr", t.RemoteAddr())
		return nil
	}
	if !s.running.Load() {
		// lost a race with Stop
		s.reg.Unregister(sess)
		sess.Stop()
		return nil
	}

	nick := sess.Nickname()
	if wire {
		sess.Send(systemNotice("Your nickname: " + nick))
	} else {
		for _, line := range welcomeBanner(nick) {
			sess.Send(line)
		}
	}

	go sess.readLoop()

	s.reg.Broadcast(systemNotice(nick+" joined"), nil)
	s.events.Log("Client connected: " + t.RemoteAddr())
	return sess
}

func welcomeBanner(nick string) []string {
	const width = 40
	nickLine := "| Your nickname: " + nick
	if pad := width - 1 - len(nickLine); pad > 0 {
		nickLine += strings.Repeat(" ", pad)
	}
	nickLine += "|"
	return []string{
		"----------------------------------------",
		"| Welcome to the chat server!          |",
		nickLine,
		"| Use /nick <new_nick> to change nick  |",
		"| Use /pm <nick> <message> for PM      |",
		"| Use /users to list online users      |",
		"| Use /leave to exit the chat          |",
		"----------------------------------------",
	}
}
