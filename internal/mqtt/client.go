package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/tpanel/internal/config"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	tokenTimeout   = 5 * time.Second
)

var ErrTokenTimeout = errors.New("mqtt operation timed out")

// Publisher is the broker surface entity adapters depend on.
type Publisher interface {
	Publish(topic string, retained bool, payload any) error
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string) error
	TopicPrefix() string
	DiscoveryPrefix() string
	AvailabilityTopic() string
}

// Client wraps a paho client, keeping subscriptions alive across reconnects
// and maintaining the bridge availability topic through a last will.
type Client struct {
	client          paho.Client
	topicPrefix     string
	discoveryPrefix string
	log             logrus.FieldLogger

	mu   sync.Mutex
	subs map[string]func([]byte)
}

var _ Publisher = (*Client)(nil)

// Connect dials the broker. The connection retries in the background, so an
// unreachable broker at startup is logged rather than fatal.
func Connect(cfg *config.MQTTConfig, log logrus.FieldLogger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}
	c := &Client{
		topicPrefix:     cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		log:             log,
		subs:            make(map[string]func([]byte)),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(c.AvailabilityTopic(), payloadOffline, 0, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		log.WithField("broker", cfg.Broker).Warn("mqtt broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func (c *Client) onConnect(client paho.Client) {
	c.log.Info("connected to mqtt")
	client.Publish(c.AvailabilityTopic(), 0, true, payloadOnline)

	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		token := client.Subscribe(topic, 0, c.dispatch)
		if token.WaitTimeout(tokenTimeout) && token.Error() != nil {
			c.log.WithError(token.Error()).WithField("topic", topic).Error("resubscribe failed")
		}
	}
}

func (c *Client) dispatch(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	handler := c.subs[msg.Topic()]
	c.mu.Unlock()
	if handler != nil {
		handler(msg.Payload())
	}
}

func (c *Client) Publish(topic string, retained bool, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return wait(c.client.Publish(topic, 0, retained, data))
}

func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// onConnect picks it up.
		return nil
	}
	return wait(c.client.Subscribe(topic, 0, c.dispatch))
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return wait(c.client.Unsubscribe(topic))
}

func (c *Client) TopicPrefix() string {
	return c.topicPrefix
}

func (c *Client) DiscoveryPrefix() string {
	return c.discoveryPrefix
}

func (c *Client) AvailabilityTopic() string {
	return fmt.Sprintf("%s/status", c.topicPrefix)
}

// Close publishes offline and disconnects.
func (c *Client) Close() {
	if c.client.IsConnectionOpen() {
		_ = wait(c.client.Publish(c.AvailabilityTopic(), 0, true, payloadOffline))
	}
	c.client.Disconnect(250)
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return data, nil
	}
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(tokenTimeout) {
		return ErrTokenTimeout
	}
	return token.Error()
}
