package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
		warning error
		leave   bool
		kind    Kind
		content string
		to      string
	}{
		{name: "leave", line: "/leave", leave: true},
		{name: "users", line: "/users", kind: KindUsersList},
		{name: "nick", line: "/nick   Bob  ", kind: KindNickChange, content: "Bob"},
		{name: "nick empty", line: "/nick    ", wantErr: ErrEmptyNickname},
		{name: "nick bare", line: "/nick", wantErr: ErrEmptyNickname},
		{name: "nick separator", line: "/nick a|b", wantErr: ErrInvalidNicknameCharacter},
		{
			name:    "nick too long is truncated",
			line:    "/nick " + strings.Repeat("x", 25),
			warning: ErrNicknameTooLong,
			kind:    KindNickChange,
			content: strings.Repeat("x", 20),
		},
		{name: "nick counts runes", line: "/nick " + strings.Repeat("é", 20), kind: KindNickChange, content: strings.Repeat("é", 20)},
		{name: "pm", line: "/pm bob hello there", kind: KindPrivate, content: "hello there", to: "bob"},
		{name: "pm without text", line: "/pm bob", wantErr: ErrMalformedCommand},
		{name: "pm empty text", line: "/pm bob ", wantErr: ErrMalformedCommand},
		{name: "pm without name", line: "/pm  hi", wantErr: ErrMalformedCommand},
		{name: "plain text", line: "hello world", kind: KindBroadcast, content: "hello world"},
		{name: "unknown slash command", line: "/dance", kind: KindBroadcast, content: "/dance"},
		{name: "nick prefix only", line: "/nickname", kind: KindBroadcast, content: "/nickname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand("alice", tt.line, 20)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.leave, cmd.Leave)
			assert.Equal(t, tt.warning, cmd.Warning)
			if tt.leave {
				return
			}
			assert.Equal(t, tt.kind, cmd.Message.Kind())
			assert.Equal(t, "alice", cmd.Message.Sender())
			assert.Equal(t, tt.content, cmd.Message.Content())
			assert.Equal(t, tt.to, cmd.Message.Receiver())
		})
	}
}

func TestHandleLine_ReportsErrorsToSender(t *testing.T) {
	r := newTestRegistry()
	alice, aliceT := newTestSession(t, r, "alice")
	_, bobT := newTestSession(t, r, "bob")

	r.HandleLine(alice, "/nick ")
	r.HandleLine(alice, "/nick x|y")
	r.HandleLine(alice, "/pm bob")

	assert.Equal(t, []string{
		"[System] Error: Nickname cannot be empty",
		"[System] Error: Nickname cannot contain '|' character",
		"[System] Error: Usage: /pm <nick> <message>",
	}, aliceT.output())
	assert.Empty(t, bobT.output())
}

func TestHandleLine_LongNicknameWarnsThenApplies(t *testing.T) {
	r := newTestRegistry()
	alice, aliceT := newTestSession(t, r, "alice")

	r.HandleLine(alice, "/nick "+strings.Repeat("z", 30))

	want := strings.Repeat("z", 20)
	assert.Equal(t, want, alice.Nickname())
	out := aliceT.output()
	require.Len(t, out, 2)
	assert.Equal(t, "[System] Error: Nickname too long (max 20 chars)", out[0])
	assert.Equal(t, "[System] alice changed name to "+want, out[1])
}

func TestHandleLine_Leave(t *testing.T) {
	r := newTestRegistry()
	alice, aliceT := newTestSession(t, r, "alice")

	r.HandleLine(alice, "/leave")

	assert.Equal(t, []string{"[System] You are leaving the chat. Goodbye!"}, aliceT.output())
	assert.False(t, alice.Alive())
	// Still registered until the accept loop drains it.
	assert.Equal(t, 1, r.Len())
}
