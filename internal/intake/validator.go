// Package intake turns raw Slack Events API deliveries into domain events and
// decides which of them should trigger a download.
package intake

import (
	"encoding/json"
	"fmt"

	"spacecatcher/internal/domain"

	"github.com/slack-go/slack/slackevents"
)

const subtypeMessageChanged = "message_changed"

// Delivery is the result of validating one webhook body.
type Delivery struct {
	Handshake bool
	Challenge string
	Event     *domain.InboundEvent // nil when the body carries no event
	EventID   string
	Type      string
}

// envelope mirrors the subset of the Events API outer payload we consume.
type envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type messageEvent struct {
	Type     string  `json:"type"`
	Subtype  string  `json:"subtype"`
	User     string  `json:"user"`
	Channel  string  `json:"channel"`
	TS       string  `json:"ts"`
	ThreadTS string  `json:"thread_ts"`
	Text     *string `json:"text"`
}

// ParseDelivery parses a webhook body. Unparseable bodies yield
// domain.ErrMalformedPayload.
func ParseDelivery(body []byte) (Delivery, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	d := Delivery{Type: env.Type, EventID: env.EventID}
	if env.Type == string(slackevents.URLVerification) {
		d.Handshake = true
		d.Challenge = env.Challenge
		return d, nil
	}

	if len(env.Event) == 0 || string(env.Event) == "null" {
		return d, nil
	}

	var raw messageEvent
	if err := json.Unmarshal(env.Event, &raw); err != nil {
		return Delivery{}, fmt.Errorf("%w: event: %v", domain.ErrMalformedPayload, err)
	}

	ev := domain.InboundEvent{
		Kind:            classifyKind(raw.Type, raw.Subtype),
		Channel:         raw.Channel,
		Timestamp:       raw.TS,
		ThreadTimestamp: raw.ThreadTS,
		User:            raw.User,
	}
	if raw.Text != nil {
		ev.Text = *raw.Text
		ev.HasText = true
	}
	d.Event = &ev
	return d, nil
}

func classifyKind(eventType, subtype string) domain.EventKind {
	if eventType != string(slackevents.Message) {
		return domain.EventOther
	}
	switch subtype {
	case "":
		return domain.EventMessage
	case subtypeMessageChanged:
		return domain.EventMessageEdited
	default:
		return domain.EventOther
	}
}
