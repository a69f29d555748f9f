package chat

import (
	"strconv"
	"strings"
)

// Separator delimits the fields of an encoded Message.
const Separator = "|"

// decodeErrorSender marks the synthetic message produced for undecodable input.
const decodeErrorSender = "ERROR"

type Kind int

const (
	KindBroadcast Kind = iota
	KindPrivate
	KindNickChange
	KindUsersList
	KindSystemNotice
)

func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindPrivate:
		return "private"
	case KindNickChange:
		return "nick_change"
	case KindUsersList:
		return "users"
	case KindSystemNotice:
		return "system"
	default:
		return "unknown"
	}
}

// Message is one protocol event. It is a value type; the zero value is an
// empty broadcast.
type Message struct {
	kind     Kind
	sender   string
	content  string
	receiver string

	malformed bool // produced by DecodeMessage for undecodable input
}

func NewMessage(kind Kind, sender, content, receiver string) Message {
	return Message{kind: kind, sender: sender, content: content, receiver: receiver}
}

func (m Message) Kind() Kind { return m.kind }
func (m Message) Sender() string { return m.sender }
func (m Message) Content() string { return m.content }
func (m Message) Receiver() string { return m.receiver }

// Malformed reports whether m was synthesized by DecodeMessage to describe a
// parse failure.
func (m Message) Malformed() bool { return m.malformed }

// Encode renders m as kind|sender|content|receiver. The receiver is left
// empty for every kind except KindPrivate.
func (m Message) Encode() string {
	receiver := ""
	if m.kind == KindPrivate {
		receiver = m.receiver
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(m.kind)))
	b.WriteString(Separator)
	b.WriteString(m.sender)
	b.WriteString(Separator)
	b.WriteString(m.content)
	b.WriteString(Separator)
	b.WriteString(receiver)
	return b.String()
}

// DecodeMessage parses an encoded message. It never fails: undecodable input
// produces a broadcast from "ERROR" whose content describes the problem.
// Kinds outside the known range are kept as-is.
func DecodeMessage(data string) Message {
	kindField, rest, ok := strings.Cut(data, Separator)
	if !ok {
		return decodeFailure("Invalid message format (no first separator)")
	}
	sender, rest, ok := strings.Cut(rest, Separator)
	if !ok {
		return decodeFailure("Invalid message format (no second separator)")
	}
	kind, err := strconv.Atoi(strings.TrimSpace(kindField))
	if err != nil {
		return decodeFailure("Invalid message type")
	}
	content, receiver, _ := strings.Cut(rest, Separator)
	return NewMessage(Kind(kind), sender, content, receiver)
}

func decodeFailure(reason string) Message {
	m := NewMessage(KindBroadcast, decodeErrorSender, reason, "")
	m.malformed = true
	return m
}
