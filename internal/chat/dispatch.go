package chat

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Dispatch routes msg on behalf of sender. The sender's registered nickname
// is authoritative; msg.Sender() is not trusted.
func (r *Registry) Dispatch(sender *Session, msg Message) {
	start := time.Now()
	kind := msg.Kind()

	switch kind {
	case KindBroadcast:
		r.dispatchBroadcast(sender, msg)
	case KindPrivate:
		r.dispatchPrivate(sender, msg)
	case KindNickChange:
		r.dispatchNickChange(sender, msg)
	case KindUsersList:
		r.dispatchUsers(sender)
	case KindSystemNotice:
		r.Broadcast(systemNotice(msg.Content()), nil)
	default:
		sender.Send(systemNotice("Error: Unknown message kind " + strconv.Itoa(int(kind))))
		r.logger.Warn("unknown message kind", "session", sender.id, "nickname", sender.Nickname(), "kind", int(kind))
		r.events.Log("Unknown message type from " + sender.Nickname())
	}

	MessagesTotal.WithLabelValues(kind.String()).Inc()
	EventProcessingDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
}

func (r *Registry) dispatchBroadcast(sender *Session, msg Message) {
	line := "[" + sender.Nickname() + "] " + msg.Content()
	n := r.Broadcast(line, sender)
	r.logger.Debug("broadcast", "session", sender.id, "recipients", n)
	r.events.Log("BROADCAST: " + line)
}

func (r *Registry) dispatchPrivate(sender *Session, msg Message) {
	from := sender.Nickname()
	to := msg.Receiver()

	err := r.PrivateDeliver("[PM from "+from+"] "+msg.Content(), to)
	if err == nil {
		echo := "[PM to " + to + "] " + msg.Content()
		sender.Send(echo)
		r.events.Log("PRIVATE: " + from + " -> " + to)
		return
	}

	reply := systemNotice("Error: User '" + to + "' not found")
	others := make([]string, 0)
	for _, nick := range r.OnlineNicknames() {
		if nick != from {
			others = append(others, nick)
		}
	}
	if len(others) > 0 {
		reply += "\nAvailable users: " + strings.Join(others, ", ")
	}
	sender.Send(reply)
	r.events.Log("PM ERROR: " + from + " tried to message " + to)
}

func (r *Registry) dispatchNickChange(sender *Session, msg Message) {
	requested := msg.Content()
	old, err := r.ChangeNickname(sender, requested)
	switch {
	case errors.Is(err, ErrNicknameTaken):
		sender.Send(systemNotice("Error: Nickname '" + requested + "' is already taken"))
		return
	case err != nil:
		r.logger.Warn("nickname change rejected", "session", sender.id, "error", err)
		return
	case old == requested:
		sender.Send(systemNotice("You are already known as " + requested))
		return
	}

	r.Broadcast(systemNotice(old+" changed name to "+requested), nil)
	r.logger.Info("nickname changed", "session", sender.id, "old", old, "new", requested)
	r.events.Log("NICK CHANGE: " + old + " -> " + requested)
}

func (r *Registry) dispatchUsers(sender *Session) {
	users := r.OnlineNicknames()
	var b strings.Builder
	b.WriteString("=== Online users (" + strconv.Itoa(len(users)) + ") ===\n")
	for _, u := range users {
		b.WriteString(" • " + u + "\n")
	}
	b.WriteString("========================")
	sender.Send(b.String())
}

// HandleWire dispatches an encoded Message received from sender. Parse
// failures go back to the sender only.
func (r *Registry) HandleWire(sender *Session, raw string) {
	msg := DecodeMessage(raw)
	if msg.Malformed() {
		sender.Send(systemNotice("Error: " + msg.Content()))
		return
	}

	switch msg.Kind() {
	case KindSystemNotice:
		sender.Send(systemNotice("Error: system notices cannot be sent by clients"))
		return
	case KindNickChange:
		nick, warning, err := ValidateNickname(msg.Content(), r.maxNick)
		if err != nil {
			sender.Send(systemNotice("Error: " + describe(err, r.maxNick)))
			return
		}
		if warning != nil {
			sender.Send(systemNotice("Error: " + describe(warning, r.maxNick)))
		}
		msg = NewMessage(KindNickChange, msg.Sender(), nick, "")
	}
	r.Dispatch(sender, msg)
}
