package chat

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andy6609/linechat/internal/eventlog"
)

const defaultNickPrefix = "User"

// stopNoticeGrace bounds how long StopAll waits on notice writes before it
// closes sessions that are still blocked.
const stopNoticeGrace = 500 * time.Millisecond

// Registry is the single owner of the live session set and the nickname
// index. No network I/O happens while mu is held.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	byNick   map[string]*Session

	// removalMu is independent of mu so scheduling never waits behind a
	// broadcast or a nickname change.
	removalMu  sync.Mutex
	pending    []*Session
	pendingSet map[*Session]struct{}

	maxNick int
	logger  *slog.Logger
	events  eventlog.Sink
}

func NewRegistry(maxNickname int, logger *slog.Logger, events eventlog.Sink) *Registry {
	if maxNickname <= 0 {
		maxNickname = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventlog.Discard
	}
	return &Registry{
		sessions:   make(map[*Session]struct{}),
		byNick:     make(map[string]*Session),
		pendingSet: make(map[*Session]struct{}),
		maxNick:    maxNickname,
		logger:     logger,
		events:     events,
	}
}

// Register adds s to the live set. It is a no-op returning false when s, or
// another session on the same transport, is already present. A session with
// no nickname, or one whose nickname is held by someone else, is given the
// next free default nickname.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	for existing := range r.sessions {
		if existing == s || existing.transport == s.transport {
			r.mu.Unlock()
			return false
		}
	}
	nick := s.Nickname()
	if owner, taken := r.byNick[nick]; nick == "" || (taken && owner != s) {
		nick = r.nextDefaultLocked()
		s.setNickname(nick)
	}
	r.sessions[s] = struct{}{}
	r.byNick[nick] = s
	n := len(r.sessions)
	r.mu.Unlock()

	ConnectedClients.Set(float64(n))
	r.logger.Info("session registered", "session", s.id, "nickname", nick, "addr", s.RemoteAddr())
	return true
}

// Unregister removes s. The nickname entry is erased only if it still points
// at s. Returns false when s was not registered.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	if owner, ok := r.byNick[s.Nickname()]; ok && owner == s {
		delete(r.byNick, s.Nickname())
	}
	_, present := r.sessions[s]
	delete(r.sessions, s)
	n := len(r.sessions)
	r.mu.Unlock()

	if present {
		ConnectedClients.Set(float64(n))
	}
	return present
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends text to every live session except exclude (nil includes
// everyone). Recipients are fixed by a snapshot taken under the lock; the
// writes happen after it is released.
func (r *Registry) Broadcast(text string, exclude *Session) int {
	recipients := r.snapshot()
	sent := 0
	for _, s := range recipients {
		if s == exclude {
			continue
		}
		s.Send(text)
		sent++
	}
	return sent
}

// PrivateDeliver sends text to the session currently holding nick.
func (r *Registry) PrivateDeliver(text, nick string) error {
	target, ok := r.Lookup(nick)
	if !ok {
		return ErrRecipientNotFound
	}
	target.Send(text)
	return nil
}

// Lookup returns the session holding nick.
func (r *Registry) Lookup(nick string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byNick[nick]
	return s, ok
}

// ChangeNickname moves s to nick in one critical section and returns the
// previous nickname. Renaming to the current nickname succeeds without change.
func (r *Registry) ChangeNickname(s *Session, nick string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := s.Nickname()
	if _, ok := r.sessions[s]; !ok {
		return old, ErrUnknownSession
	}
	if owner, ok := r.byNick[nick]; ok && owner != s {
		return old, ErrNicknameTaken
	}
	if old == nick {
		return old, nil
	}
	if owner, ok := r.byNick[old]; ok && owner == s {
		delete(r.byNick, old)
	}
	r.byNick[nick] = s
	s.setNickname(nick)
	return old, nil
}

// OnlineNicknames returns the current nicknames in sorted order.
func (r *Registry) OnlineNicknames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.byNick))
	for name := range r.byNick {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// NextAvailableDefaultNickname returns User<N> for the smallest positive N
// not in use.
func (r *Registry) NextAvailableDefaultNickname() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextDefaultLocked()
}

func (r *Registry) nextDefaultLocked() string {
	used := make(map[int]struct{})
	for nick := range r.byNick {
		if n, ok := defaultNickNumber(nick); ok {
			used[n] = struct{}{}
		}
	}
	candidate := 1
	for {
		if _, taken := used[candidate]; !taken {
			break
		}
		candidate++
	}
	return defaultNickPrefix + strconv.Itoa(candidate)
}

// defaultNickNumber extracts N from User<N>. Anything else, including
// overflowing or signed suffixes, is ignored.
func defaultNickNumber(nick string) (int, bool) {
	suffix, ok := strings.CutPrefix(nick, defaultNickPrefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ScheduleRemoval queues s for teardown by the accept loop. Scheduling a
// session that is already pending does nothing and returns false.
func (r *Registry) ScheduleRemoval(s *Session) bool {
	r.removalMu.Lock()
	defer r.removalMu.Unlock()
	if _, ok := r.pendingSet[s]; ok {
		return false
	}
	r.pendingSet[s] = struct{}{}
	r.pending = append(r.pending, s)
	return true
}

// DrainScheduledRemovals takes the pending queue and, for each session still
// registered, unregisters it and announces the departure. It must not be
// called from a session's own read loop.
func (r *Registry) DrainScheduledRemovals() int {
	r.removalMu.Lock()
	batch := r.pending
	r.pending = nil
	r.pendingSet = make(map[*Session]struct{})
	r.removalMu.Unlock()

	removed := 0
	for _, s := range batch {
		s.Stop()
		if !r.Unregister(s) {
			continue
		}
		removed++
		DeferredRemovalsTotal.Inc()
		nick := s.Nickname()
		r.Broadcast(systemNotice(nick+" left the chat"), nil)
		r.logger.Info("session removed", "session", s.id, "nickname", nick)
		r.events.Log("Client disconnected: " + nick)
	}
	return removed
}

// StopAll notifies and stops every live session, then empties the registry.
// Sessions are copied under the lock and acted on after it is released.
// A client that stopped reading cannot hold up the others: notices are
// written concurrently and every session is closed after stopNoticeGrace
// at the latest, which also unblocks any write still pending.
func (r *Registry) StopAll(notice string) {
	live := r.snapshot()
	if notice != "" && len(live) > 0 {
		var wg sync.WaitGroup
		for _, s := range live {
			s := s
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Send(notice)
			}()
		}
		sent := make(chan struct{})
		go func() {
			wg.Wait()
			close(sent)
		}()
		timer := time.NewTimer(stopNoticeGrace)
		select {
		case <-sent:
		case <-timer.C:
			r.logger.Warn("shutdown notice not delivered to every session in time")
		}
		timer.Stop()
	}
	for _, s := range live {
		s.Stop()
	}

	r.mu.Lock()
	r.sessions = make(map[*Session]struct{})
	r.byNick = make(map[string]*Session)
	r.mu.Unlock()
	ConnectedClients.Set(0)
}

func systemNotice(text string) string {
	return "[System] " + text
}
