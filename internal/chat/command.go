package chat

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Command is the result of interpreting one client input line.
type Command struct {
	Message Message
	Leave   bool
	// Warning is reported to the client but does not stop the command.
	Warning error
}

// ParseCommand interprets line typed by sender. Supported commands are
// /nick <name>, /pm <name> <text>, /users and /leave; any other text is a
// broadcast.
func ParseCommand(sender, line string, maxNick int) (Command, error) {
	if line == "" {
		return Command{}, ErrMalformedCommand
	}

	switch {
	case line == "/leave":
		return Command{Leave: true}, nil

	case line == "/users":
		return Command{Message: NewMessage(KindUsersList, sender, "", "")}, nil

	case line == "/nick" || strings.HasPrefix(line, "/nick "):
		nick, warning, err := ValidateNickname(strings.TrimPrefix(line, "/nick"), maxNick)
		if err != nil {
			return Command{}, err
		}
		return Command{Message: NewMessage(KindNickChange, sender, nick, ""), Warning: warning}, nil

	case strings.HasPrefix(line, "/pm "):
		to, text, ok := strings.Cut(strings.TrimPrefix(line, "/pm "), " ")
		if !ok || to == "" || text == "" {
			return Command{}, ErrMalformedCommand
		}
		return Command{Message: NewMessage(KindPrivate, sender, text, to)}, nil
	}

	return Command{Message: NewMessage(KindBroadcast, sender, line, "")}, nil
}

// ValidateNickname trims raw and checks it can be used as a nickname. A name
// longer than maxNick runes is truncated and reported through warning.
func ValidateNickname(raw string, maxNick int) (nick string, warning error, err error) {
	nick = strings.TrimSpace(raw)
	if nick == "" {
		return "", nil, ErrEmptyNickname
	}
	if maxNick > 0 && utf8.RuneCountInString(nick) > maxNick {
		warning = ErrNicknameTooLong
		nick = truncateRunes(nick, maxNick)
	}
	if strings.Contains(nick, Separator) {
		return "", nil, ErrInvalidNicknameCharacter
	}
	return nick, warning, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// HandleLine runs one command line for s.
func (r *Registry) HandleLine(s *Session, line string) {
	cmd, err := ParseCommand(s.Nickname(), line, r.maxNick)
	if err != nil {
		s.Send(systemNotice("Error: " + describe(err, r.maxNick)))
		return
	}
	if cmd.Warning != nil {
		s.Send(systemNotice("Error: " + describe(cmd.Warning, r.maxNick)))
	}
	if cmd.Leave {
		r.logger.Info("client requested leave", "session", s.id, "nickname", s.Nickname())
		s.Send(systemNotice("You are leaving the chat. Goodbye!"))
		s.Stop()
		return
	}
	r.Dispatch(s, cmd.Message)
}

func describe(err error, maxNick int) string {
	switch {
	case errors.Is(err, ErrEmptyNickname):
		return "Nickname cannot be empty"
	case errors.Is(err, ErrNicknameTooLong):
		return "Nickname too long (max " + strconv.Itoa(maxNick) + " chars)"
	case errors.Is(err, ErrInvalidNicknameCharacter):
		return "Nickname cannot contain '" + Separator + "' character"
	case errors.Is(err, ErrMalformedCommand):
		return "Usage: /pm <nick> <message>"
	default:
		return err.Error()
	}
}
