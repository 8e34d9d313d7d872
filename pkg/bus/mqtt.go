package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

// MQTTOptions configures the MQTT driver.
type MQTTOptions struct {
	// Broker is the host:port of the MQTT broker.
	Broker string
	// ClientID identifies this connection to the broker. Required; each
	// instance needs a distinct one.
	ClientID string
	// QoS for publishes and subscriptions. Defaults to 1 (at-least-once),
	// which matches the delivery contract the engine assumes.
	QoS byte
	// ConnectTimeout bounds the initial connect. Defaults to 10s.
	ConnectTimeout time.Duration
	// Username and Password are optional broker credentials.
	Username string
	Password string
}

type mqttBus struct {
	client mqtt.Client
	qos    byte
	logger logpkg.Logger
}

// NewMQTT connects to an MQTT broker and returns a Bus over it. The client
// auto-reconnects and retries the initial connect; subscriptions are
// restored by the paho session on reconnect.
func NewMQTT(opts MQTTOptions, logger logpkg.Logger) (Bus, error) {
	if opts.Broker == "" {
		return nil, errors.New("bus: mqtt broker address is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("bus: mqtt client id is required")
	}
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("bus"))
	}
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s", opts.Broker))
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(false)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetConnectTimeout(timeout)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to mqtt broker",
			logpkg.Str("broker", opts.Broker), logpkg.Str("client_id", opts.ClientID))
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if err != nil {
			logger.Warn("mqtt connection lost", logpkg.Err(err))
		}
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, errors.New("bus: timeout connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: connect mqtt broker: %w", err)
	}
	return &mqttBus{client: client, qos: qos, logger: logger}, nil
}

func (b *mqttBus) Publish(ctx context.Context, topic string, payload []byte) error {
	token := b.client.Publish(topic, b.qos, false, payload)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			if token.WaitTimeout(0) {
				return token.Error()
			}
		}
	}
}

func (b *mqttBus) Subscribe(_ context.Context, topic string, h Handler) error {
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Payload())
	})
	token.Wait()
	return token.Error()
}

func (b *mqttBus) Disconnect() error {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}
