package chat

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistry_NextAvailableDefaultNickname(t *testing.T) {
	tests := []struct {
		name  string
		nicks []string
		want  string
	}{
		{name: "empty registry", want: "User1"},
		{name: "fills gap", nicks: []string{"User1", "User3"}, want: "User2"},
		{name: "contiguous", nicks: []string{"User1", "User2"}, want: "User3"},
		{
			name:  "ignores malformed suffixes",
			nicks: []string{"User", "Userx", "User-1", "User0", "User1a", "User99999999999999999999999", "alice"},
			want:  "User1",
		},
		{name: "leading zeros count", nicks: []string{"User01"}, want: "User2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			for _, nick := range tt.nicks {
				newTestSession(t, r, nick)
			}
			assert.Equal(t, tt.want, r.NextAvailableDefaultNickname())
		})
	}
}

func TestRegistry_RegisterAssignsDefaultNickname(t *testing.T) {
	r := newTestRegistry()
	a, _ := newTestSession(t, r, "")
	b, _ := newTestSession(t, r, "")
	assert.Equal(t, "User1", a.Nickname())
	assert.Equal(t, "User2", b.Nickname())

	// A session arriving with a taken nickname is renamed instead of
	// stealing the index entry.
	c, _ := newTestSession(t, r, "User1")
	assert.Equal(t, "User3", c.Nickname())
	requireConsistent(t, r)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	s, ft := newTestSession(t, r, "alice")

	assert.False(t, r.Register(s), "same session twice")

	dup := newSession(99, ft, r, sessionOptions{}, discardLogger())
	assert.False(t, r.Register(dup), "second session on the same transport")
	assert.Equal(t, 1, r.Len())
	requireConsistent(t, r)
}

func TestRegistry_UnregisterOnlyErasesOwnEntry(t *testing.T) {
	r := newTestRegistry()
	old, _ := newTestSession(t, r, "")
	require.Equal(t, "User1", old.Nickname())

	r.StopAll("")
	fresh, _ := newTestSession(t, r, "")
	require.Equal(t, "User1", fresh.Nickname())

	assert.False(t, r.Unregister(old))
	owner, ok := r.Lookup("User1")
	require.True(t, ok)
	assert.Same(t, fresh, owner)
	requireConsistent(t, r)
}

func TestRegistry_ChangeNickname(t *testing.T) {
	r := newTestRegistry()
	alice, _ := newTestSession(t, r, "alice")
	bob, _ := newTestSession(t, r, "bob")

	_, err := r.ChangeNickname(alice, "bob")
	assert.ErrorIs(t, err, ErrNicknameTaken)
	assert.Equal(t, "alice", alice.Nickname())
	assert.Equal(t, "bob", bob.Nickname())

	old, err := r.ChangeNickname(alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", old)

	old, err = r.ChangeNickname(alice, "carol")
	require.NoError(t, err)
	assert.Equal(t, "alice", old)
	assert.Equal(t, "carol", alice.Nickname())
	_, stillThere := r.Lookup("alice")
	assert.False(t, stillThere)
	assert.Equal(t, []string{"bob", "carol"}, r.OnlineNicknames())
	requireConsistent(t, r)

	stranger := newSession(42, newFakeTransport("x"), r, sessionOptions{}, discardLogger())
	_, err = r.ChangeNickname(stranger, "dave")
	assert.ErrorIs(t, err, ErrUnknownSession)
	requireConsistent(t, r)
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry()
	sender, senderT := newTestSession(t, r, "s")
	_, aT := newTestSession(t, r, "a")
	_, bT := newTestSession(t, r, "b")

	n := r.Broadcast("hi", sender)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, aT.count("hi"))
	assert.Equal(t, 1, bT.count("hi"))
	assert.Zero(t, senderT.count("hi"))

	assert.Equal(t, 3, r.Broadcast("all", nil))
	assert.Equal(t, 1, senderT.count("all"))
}

func TestRegistry_PrivateDeliver(t *testing.T) {
	r := newTestRegistry()
	_, bobT := newTestSession(t, r, "bob")

	require.NoError(t, r.PrivateDeliver("psst", "bob"))
	assert.Equal(t, []string{"psst"}, bobT.output())
	assert.ErrorIs(t, r.PrivateDeliver("psst", "nobody"), ErrRecipientNotFound)
}

func TestRegistry_ScheduleRemovalTwiceDrainsOnce(t *testing.T) {
	r := newTestRegistry()
	leaving, leavingT := newTestSession(t, r, "leaving")
	_, watcherT := newTestSession(t, r, "watcher")

	assert.True(t, r.ScheduleRemoval(leaving))
	assert.False(t, r.ScheduleRemoval(leaving))

	assert.Equal(t, 1, r.DrainScheduledRemovals())
	assert.Equal(t, 1, watcherT.count("[System] leaving left the chat"))
	assert.False(t, leaving.Alive())
	assert.Equal(t, 1, leavingT.closeCount())
	assert.Equal(t, []string{"watcher"}, r.OnlineNicknames())

	// Already gone: a later schedule neither re-announces nor fails.
	assert.True(t, r.ScheduleRemoval(leaving))
	assert.Equal(t, 0, r.DrainScheduledRemovals())
	assert.Equal(t, 1, watcherT.count("[System] leaving left the chat"))
	requireConsistent(t, r)
}

func TestRegistry_StopAllNotifiesAndClears(t *testing.T) {
	r := newTestRegistry()
	a, aT := newTestSession(t, r, "a")
	b, bT := newTestSession(t, r, "b")

	r.StopAll("bye")
	assert.Equal(t, []string{"bye"}, aT.output())
	assert.Equal(t, []string{"bye"}, bT.output())
	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
	assert.Zero(t, r.Len())
	assert.Empty(t, r.OnlineNicknames())
}

// stuckTransport models a client that stopped reading: writes block until the
// transport is closed.
type stuckTransport struct {
	*fakeTransport
	writing chan struct{}
	once    sync.Once
}

func newStuckTransport(addr string) *stuckTransport {
	return &stuckTransport{fakeTransport: newFakeTransport(addr), writing: make(chan struct{})}
}

func (s *stuckTransport) Write([]byte) error {
	s.once.Do(func() { close(s.writing) })
	<-s.closedCh
	return net.ErrClosed
}

func TestRegistry_StopAllClosesSessionBlockedInWrite(t *testing.T) {
	r := newTestRegistry()
	st := newStuckTransport("stuck")
	stuck := newSession(testIDs.Add(1), st, r, sessionOptions{poll: 10 * time.Millisecond}, discardLogger())
	require.True(t, r.Register(stuck))
	_, okT := newTestSession(t, r, "ok")

	// A send already blocked on the stuck client holds its write guard.
	go stuck.Send("flood")
	select {
	case <-st.writing:
	case <-time.After(time.Second):
		t.Fatal("send never reached the transport")
	}

	done := make(chan struct{})
	go func() {
		r.StopAll("bye")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopNoticeGrace + time.Second):
		t.Fatal("StopAll blocked on a client that stopped reading")
	}

	assert.Equal(t, 1, okT.count("bye"))
	assert.False(t, stuck.Alive())
	assert.Equal(t, 1, st.closeCount())
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentMutationStaysConsistent(t *testing.T) {
	r := newTestRegistry()
	const workers = 16

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s := newSession(testIDs.Add(1), newFakeTransport(fmt.Sprintf("w%d-%d", w, i)), r, sessionOptions{}, discardLogger())
				r.Register(s)
				_, _ = r.ChangeNickname(s, fmt.Sprintf("n%d", i%7))
				r.Broadcast("x", s)
				if i%3 == 0 {
					r.ScheduleRemoval(s)
				} else {
					r.Unregister(s)
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.DrainScheduledRemovals()
		}
	}()
	wg.Wait()
	r.DrainScheduledRemovals()

	requireConsistent(t, r)
	assert.Zero(t, r.Len())
}

func TestRegistry_ConsistencyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newTestRegistry()
		var all []*Session

		t.Repeat(map[string]func(*rapid.T){
			"register": func(t *rapid.T) {
				nick := rapid.SampledFrom([]string{"", "alice", "bob", "User1", "User2"}).Draw(t, "nick")
				s := newSession(testIDs.Add(1), newFakeTransport("p"), r, sessionOptions{}, discardLogger())
				s.nickname = nick
				r.Register(s)
				all = append(all, s)
			},
			"unregister": func(t *rapid.T) {
				if len(all) == 0 {
					t.Skip("no sessions")
				}
				r.Unregister(rapid.SampledFrom(all).Draw(t, "session"))
			},
			"rename": func(t *rapid.T) {
				if len(all) == 0 {
					t.Skip("no sessions")
				}
				s := rapid.SampledFrom(all).Draw(t, "session")
				nick := rapid.SampledFrom([]string{"alice", "bob", "carol", "User1"}).Draw(t, "nick")
				before := r.OnlineNicknames()
				_, err := r.ChangeNickname(s, nick)
				if err != nil {
					require.Equal(t, before, r.OnlineNicknames(), "failed rename must not mutate")
				}
			},
			"schedule-and-drain": func(t *rapid.T) {
				if len(all) == 0 {
					t.Skip("no sessions")
				}
				r.ScheduleRemoval(rapid.SampledFrom(all).Draw(t, "session"))
				r.DrainScheduledRemovals()
			},
			"": func(t *rapid.T) {
				requireConsistent(t, r)
			},
		})
	})
}
