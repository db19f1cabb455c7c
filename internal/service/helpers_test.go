package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openclaw/pairing-gateway-go/internal/link"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCollaborator struct {
	mu          sync.Mutex
	connects    []link.ConnectRequest
	disconnects int
	connectErr  error
	sink        link.EventSink

	// duringConnect runs before Connect returns, as events racing the call would.
	duringConnect func(ctx context.Context, sink link.EventSink)
}

func (f *fakeCollaborator) Connect(ctx context.Context, req link.ConnectRequest, sink link.EventSink) error {
	f.mu.Lock()
	f.connects = append(f.connects, req)
	err, hook := f.connectErr, f.duringConnect
	if err == nil {
		f.sink = sink
	}
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, sink)
	}
	return err
}

func (f *fakeCollaborator) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.sink = nil
	return nil
}

func (f *fakeCollaborator) Close() error { return nil }

func (f *fakeCollaborator) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeCollaborator) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeCollaborator) emit(ctx context.Context, event link.Event) error {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return errors.New("no sink attached")
	}
	return sink(ctx, event)
}

type published struct {
	topic string
	event sse.Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(ctx context.Context, topic string, event sse.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{topic: topic, event: event})
	return nil
}

func (n *recordingNotifier) ofType(eventType string) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []published
	for _, p := range n.events {
		if p.event.Type == eventType {
			out = append(out, p)
		}
	}
	return out
}
