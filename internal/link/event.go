// Package link bridges the service to the external device-link collaborator.
// Events flow in and commands flow out as JSON over Redis pub/sub or MQTT.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventQR    EventType = "qr"
	EventOpen  EventType = "open"
	EventClose EventType = "close"
	EventCreds EventType = "creds"
)

// Close reasons reported by the collaborator.
const (
	ReasonLoggedOut        = 401
	ReasonForbidden        = 403
	ReasonTimedOut         = 408
	ReasonConnectionClosed = 428
	ReasonReplaced         = 440
	ReasonBadSession       = 500
	ReasonRestartRequired  = 515
)

var ErrInvalidEvent = errors.New("invalid link event")

type Event struct {
	Type        EventType       `json:"type"`
	Seq         uint64          `json:"seq,omitempty"`
	QR          string          `json:"qr,omitempty"`
	AccountID   string          `json:"accountId,omitempty"`
	Reason      int             `json:"reason,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// IsLoggedOut reports whether a close event means the device was unlinked.
func (e Event) IsLoggedOut() bool {
	return e.Type == EventClose && e.Reason == ReasonLoggedOut
}

func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch event.Type {
	case EventQR:
		if event.QR == "" {
			return Event{}, fmt.Errorf("%w: qr event without payload", ErrInvalidEvent)
		}
	case EventOpen, EventClose:
	case EventCreds:
		if len(event.Credentials) == 0 {
			return Event{}, fmt.Errorf("%w: creds event without credentials", ErrInvalidEvent)
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}
	return event, nil
}

type CommandType string

const (
	CommandConnect    CommandType = "connect"
	CommandDisconnect CommandType = "disconnect"
	CommandAck        CommandType = "ack"
)

type Command struct {
	Type        CommandType     `json:"type"`
	SessionID   string          `json:"sessionId,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
}

type ConnectRequest struct {
	SessionID   string
	Credentials json.RawMessage
}

// EventSink receives collaborator events one at a time. A non-nil error
// withholds the ack so the collaborator redelivers the event.
type EventSink func(ctx context.Context, event Event) error

type Collaborator interface {
	Connect(ctx context.Context, req ConnectRequest, sink EventSink) error
	Disconnect(ctx context.Context) error
	Close() error
}
