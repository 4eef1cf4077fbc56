package domain

// EventKind classifies an inbound Events API delivery.
type EventKind int

const (
	EventOther EventKind = iota
	EventHandshake
	EventMessage
	EventMessageEdited
)

func (k EventKind) String() string {
	switch k {
	case EventHandshake:
		return "handshake"
	case EventMessage:
		return "message"
	case EventMessageEdited:
		return "message_edited"
	default:
		return "other"
	}
}

// InboundEvent is a message event parsed from a webhook body.
type InboundEvent struct {
	Kind            EventKind
	Channel         string
	Timestamp       string // message ts; unique per message, used for dedup
	ThreadTimestamp string // thread_ts when the message is itself a thread reply
	User            string
	Text            string
	HasText         bool
}

// ThreadRoot returns the ts replies should be threaded under.
func (e InboundEvent) ThreadRoot() string {
	if e.ThreadTimestamp != "" {
		return e.ThreadTimestamp
	}
	return e.Timestamp
}

// BotIdentity is the bot's own Slack identity, resolved once at startup.
type BotIdentity struct {
	UserID string
	User   string
	TeamID string
}
