package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	mqttQoS               = 1
	mqttConnectTimeout    = 10 * time.Second
	mqttKeepAlive         = 60 * time.Second
	mqttMaxReconnect      = 30 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttInboxSize         = 64
)

var ErrMQTTTimeout = errors.New("mqtt operation timed out")

// MQTTBridge talks to the collaborator over two MQTT topics.
type MQTTBridge struct {
	*dispatcher

	client      pahomqtt.Client
	eventsTopic string

	// Delivery runs off paho's router goroutine, in arrival order.
	inbox chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	subscribed     chan struct{}
	subscribedOnce sync.Once
}

var _ Collaborator = (*MQTTBridge)(nil)

type MQTTOptions struct {
	BrokerURL     string
	ClientID      string
	EventsTopic   string
	CommandsTopic string
	SinkTimeout   time.Duration
}

// NewMQTTBridge connects to the broker and returns once the events topic is
// subscribed. The subscription is restored on every reconnect.
func NewMQTTBridge(opts MQTTOptions) (*MQTTBridge, error) {
	b := &MQTTBridge{
		eventsTopic: opts.EventsTopic,
		inbox:       make(chan []byte, mqttInboxSize),
		done:        make(chan struct{}),
		subscribed:  make(chan struct{}),
	}
	b.dispatcher = newDispatcher(func(ctx context.Context, payload []byte) error {
		return b.publish(ctx, opts.CommandsTopic, payload)
	}, opts.SinkTimeout)

	clientOpts := pahomqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(mqttMaxReconnect).
		SetConnectTimeout(mqttConnectTimeout).
		SetKeepAlive(mqttKeepAlive).
		SetOrderMatters(true)

	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		token := c.Subscribe(b.eventsTopic, mqttQoS, b.handleMessage)
		if !token.WaitTimeout(mqttConnectTimeout) {
			log.Error().Str("topic", b.eventsTopic).Msg("mqtt subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", b.eventsTopic).Msg("mqtt subscribe failed")
			return
		}
		b.subscribedOnce.Do(func() { close(b.subscribed) })
		log.Info().Str("topic", b.eventsTopic).Msg("mqtt link bridge subscribed")
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	b.client = pahomqtt.NewClient(clientOpts)
	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt: %w", ErrMQTTTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}

	select {
	case <-b.subscribed:
	case <-time.After(mqttConnectTimeout):
		b.client.Disconnect(mqttDisconnectQuiesce)
		return nil, fmt.Errorf("subscribe %s: %w", b.eventsTopic, ErrMQTTTimeout)
	}

	b.wg.Add(1)
	go b.consume()

	return b, nil
}

func (b *MQTTBridge) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	select {
	case b.inbox <- msg.Payload():
	case <-b.done:
	}
}

func (b *MQTTBridge) consume() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case payload := <-b.inbox:
			b.deliver(payload)
		}
	}
}

func (b *MQTTBridge) publish(ctx context.Context, topic string, payload []byte) error {
	token := b.client.Publish(topic, mqttQoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (b *MQTTBridge) Close() error {
	b.client.Disconnect(mqttDisconnectQuiesce)
	close(b.done)
	b.wg.Wait()
	return nil
}
