package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBridge talks to the collaborator over two pub/sub channels.
type RedisBridge struct {
	*dispatcher

	client        *redis.Client
	eventsChannel string
	pubsub        *redis.PubSub
	wg            sync.WaitGroup
}

var _ Collaborator = (*RedisBridge)(nil)

// NewRedisBridge subscribes to eventsChannel and returns once the
// subscription is confirmed.
func NewRedisBridge(ctx context.Context, client *redis.Client, eventsChannel, commandsChannel string, sinkTimeout time.Duration) (*RedisBridge, error) {
	b := &RedisBridge{
		client:        client,
		eventsChannel: eventsChannel,
	}
	b.dispatcher = newDispatcher(func(ctx context.Context, payload []byte) error {
		return client.Publish(ctx, commandsChannel, payload).Err()
	}, sinkTimeout)

	b.pubsub = client.Subscribe(ctx, eventsChannel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", eventsChannel, err)
	}

	b.wg.Add(1)
	go b.consume()

	log.Info().
		Str("events", eventsChannel).
		Str("commands", commandsChannel).
		Msg("redis link bridge subscribed")

	return b, nil
}

func (b *RedisBridge) consume() {
	defer b.wg.Done()

	for msg := range b.pubsub.Channel() {
		b.deliver([]byte(msg.Payload))
	}
}

func (b *RedisBridge) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
