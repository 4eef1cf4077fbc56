package intake

import (
	"strings"

	"spacecatcher/internal/domain"
)

// Reasons reported by Classifier.Check for ineligible events.
const (
	ReasonNotMessage = "not_message"
	ReasonEdited     = "edited"
	ReasonSelf       = "self"
	ReasonNoText     = "no_text"
)

// Classifier decides whether a message event may trigger a download.
type Classifier struct {
	bot domain.BotIdentity
}

// NewClassifier builds a classifier that ignores messages authored by bot.
func NewClassifier(bot domain.BotIdentity) *Classifier {
	return &Classifier{bot: bot}
}

// Eligible reports whether ev should be acted on.
func (c *Classifier) Eligible(ev domain.InboundEvent) bool {
	ok, _ := c.Check(ev)
	return ok
}

// Check is Eligible plus the reason an event was rejected.
func (c *Classifier) Check(ev domain.InboundEvent) (bool, string) {
	switch ev.Kind {
	case domain.EventMessage:
	case domain.EventMessageEdited:
		return false, ReasonEdited
	default:
		return false, ReasonNotMessage
	}
	if c.bot.UserID != "" && ev.User == c.bot.UserID {
		return false, ReasonSelf
	}
	if !ev.HasText || strings.TrimSpace(ev.Text) == "" {
		return false, ReasonNoText
	}
	return true, ""
}
