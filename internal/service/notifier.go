package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/sse"
)

const (
	EventConnectionState = "connection_state"
	EventSessionLinked   = "session_linked"
	EventSessionUsed     = "session_used"
	EventSessionExpired  = "session_expired"
)

// Notifier publishes events to SSE subscribers of a topic.
type Notifier interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, string, sse.Event) error { return nil }

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

// notify publishes data on topic. Failures are logged and never returned.
func notify(ctx context.Context, n Notifier, topic, eventType string, data any) {
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to build event")
		return
	}
	if err := n.Publish(ctx, topic, event); err != nil {
		log.Warn().Err(err).
			Str("topic", topic).
			Str("type", eventType).
			Msg("failed to publish event")
	}
}
