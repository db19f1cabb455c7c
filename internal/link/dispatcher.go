package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSinkTimeout = 15 * time.Second

type publishFunc func(ctx context.Context, payload []byte) error

// dispatcher holds the transport-independent half of a bridge: encoding
// commands and feeding decoded events to the current sink.
type dispatcher struct {
	publish     publishFunc
	sinkTimeout time.Duration

	sinkMu sync.RWMutex
	sink   EventSink

	// deliverMu keeps delivery sequential even if a transport calls in
	// from more than one goroutine.
	deliverMu sync.Mutex
}

func newDispatcher(publish publishFunc, sinkTimeout time.Duration) *dispatcher {
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &dispatcher{publish: publish, sinkTimeout: sinkTimeout}
}

func (d *dispatcher) Connect(ctx context.Context, req ConnectRequest, sink EventSink) error {
	d.setSink(sink)
	err := d.send(ctx, Command{
		Type:        CommandConnect,
		SessionID:   req.SessionID,
		Credentials: req.Credentials,
	})
	if err != nil {
		d.setSink(nil)
		return err
	}
	return nil
}

func (d *dispatcher) Disconnect(ctx context.Context) error {
	d.setSink(nil)
	return d.send(ctx, Command{Type: CommandDisconnect})
}

func (d *dispatcher) setSink(sink EventSink) {
	d.sinkMu.Lock()
	d.sink = sink
	d.sinkMu.Unlock()
}

func (d *dispatcher) currentSink() EventSink {
	d.sinkMu.RLock()
	defer d.sinkMu.RUnlock()
	return d.sink
}

func (d *dispatcher) send(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Type, err)
	}
	if err := d.publish(ctx, payload); err != nil {
		return fmt.Errorf("send %s command: %w", cmd.Type, err)
	}
	return nil
}

func (d *dispatcher) deliver(payload []byte) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	event, err := DecodeEvent(payload)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed link event")
		return
	}

	sink := d.currentSink()
	if sink == nil {
		log.Debug().Str("type", string(event.Type)).Msg("no active link session, dropping event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	defer cancel()

	if err := sink(ctx, event); err != nil {
		log.Error().Err(err).
			Str("type", string(event.Type)).
			Uint64("seq", event.Seq).
			Msg("link event handling failed, withholding ack")
		return
	}

	if event.Seq == 0 {
		return
	}
	if err := d.send(ctx, Command{Type: CommandAck, Seq: event.Seq}); err != nil {
		log.Warn().Err(err).Uint64("seq", event.Seq).Msg("failed to ack link event")
	}
}
