package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/httputil"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
	"github.com/openclaw/pairing-gateway-go/internal/util"
)

// EventSource hands out per-topic SSE clients.
type EventSource interface {
	Subscribe(topic string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type EventsHandler struct {
	source    EventSource
	pairing   PairingAPI
	heartbeat time.Duration
}

func NewEventsHandler(source EventSource, pairing PairingAPI) *EventsHandler {
	return &EventsHandler{
		source:    source,
		pairing:   pairing,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /api/events[?code=XXXX]
// Streams lifecycle events for one pairing code, or connection state
// changes when no code is given. The first event is a snapshot.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	topic := sse.TopicConnection
	logTopic := topic
	var snapshot any
	if raw := r.URL.Query().Get("code"); raw != "" {
		session, err := h.pairing.GetSession(ctx, raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		topic = sse.SessionTopic(session.Code)
		logTopic = sse.SessionTopic(util.MaskCode(session.Code))
		snapshot = session
	} else {
		snapshot = h.pairing.GetStatus(ctx)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.source.Subscribe(topic)
	defer h.source.Unsubscribe(client)

	log.Info().Str("topic", logTopic).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "snapshot", snapshot); err != nil {
		log.Error().Err(err).Msg("failed to send snapshot")
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("topic", logTopic).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("topic", logTopic).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("topic", logTopic).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
