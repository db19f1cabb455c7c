package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/pairing-gateway-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	// TopicConnection carries connection state changes.
	TopicConnection = "connection"

	clientBufferSize = 100
)

// SessionTopic carries lifecycle events for one pairing code.
func SessionTopic(code string) string {
	return fmt.Sprintf("session:%s", code)
}

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans events published on Redis out to local SSE clients, one
// Redis subscription per topic with at least one client.
type Broker struct {
	redis  *redisclient.Client
	topics map[string]*topicSubscription
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

type topicSubscription struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		topics: make(map[string]*topicSubscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	sub, ok := b.topics[topic]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &topicSubscription{clients: make(map[*Client]bool), cancel: cancel}
		b.topics[topic] = sub
		go b.subscribeToRedis(ctx, topic, sub)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.topics[client.Topic]
	if !ok || !sub.clients[client] {
		return
	}
	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.topics, client.Topic)
	}

	log.Info().
		Str("topic", client.Topic).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.redis.Publish(ctx, redisclient.EventChannel(topic), data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string, sub *topicSubscription) {
	channel := redisclient.EventChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("topic", topic).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, sub, event)
		}
	}
}

func (b *Broker) broadcast(topic string, sub *topicSubscription, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range sub.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.topics = make(map[string]*topicSubscription)
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.topics[topic]; ok {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.topics {
		total += len(sub.clients)
	}
	return total
}
