package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luhtfiimanal/go-rx-serial/internal/config"
)

// Handler receives the payload of a message published on topic.
type Handler func(topic string, payload []byte)

// ClientAPI is the part of the broker client the bridge needs.
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishWith(topic string, payload []byte, retain bool) error
}

type Client struct {
	cli     mqtt.Client
	qos     byte
	timeout time.Duration
	log     *zap.Logger
}

var _ ClientAPI = (*Client)(nil)

// Will is published retained by the broker when the connection drops.
type Will struct {
	Topic   string
	Payload string
}

// Connect dials the broker named in cfg and waits for the session.
func Connect(cfg config.MQTTConfig, will *Will, log *zap.Logger) (*Client, error) {
	b, err := parseBroker(cfg.Broker)
	if err != nil {
		return nil, err
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rxserial-" + uuid.NewString()[:8]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.server)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.OnConnect = func(mqtt.Client) { log.Info("mqtt connected", zap.String("broker", b.server)) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { log.Error("mqtt connection lost", zap.Error(err)) }
	if b.username != "" {
		opts.SetUsername(b.username)
		opts.SetPassword(b.password)
	}
	if b.tls {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if will != nil {
		opts.SetWill(will.Topic, will.Payload, cfg.QoS, true)
	}

	cli := mqtt.NewClient(opts)
	t := cli.Connect()
	if !t.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", b.server, timeout)
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", b.server, err)
	}
	return &Client{cli: cli, qos: cfg.QoS, timeout: timeout, log: log}, nil
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	t := c.cli.Subscribe(topic, c.qos, func(_ mqtt.Client, m mqtt.Message) {
		cb(m.Topic(), m.Payload())
	})
	if err := c.wait(t); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Info("mqtt subscribed", zap.String("topic", topic))
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	if err := c.wait(c.cli.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	c.log.Info("mqtt unsubscribed", zap.String("topic", topic))
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, false)
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	return c.wait(c.cli.Publish(topic, c.qos, retain, payload))
}

// Close disconnects, giving in-flight work a moment to finish.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}

func (c *Client) wait(t mqtt.Token) error {
	if !t.WaitTimeout(c.timeout) {
		return fmt.Errorf("timed out after %s", c.timeout)
	}
	return t.Error()
}

type broker struct {
	server   string
	username string
	password string
	tls      bool
}

// parseBroker accepts mqtt://, tcp://, ssl://, tls://, ws:// and wss:// URLs
// with optional user info and maps them to the form paho dials.
func parseBroker(raw string) (broker, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return broker{}, fmt.Errorf("mqtt broker %q: %w", raw, err)
	}
	if u.Host == "" {
		return broker{}, fmt.Errorf("mqtt broker %q: missing host", raw)
	}
	var b broker
	switch u.Scheme {
	case "mqtt", "tcp":
		b.server = "tcp://" + u.Host
	case "ssl", "tls", "mqtts":
		b.server = "ssl://" + u.Host
		b.tls = true
	case "ws":
		b.server = "ws://" + u.Host + u.Path
	case "wss":
		b.server = "wss://" + u.Host + u.Path
		b.tls = true
	default:
		return broker{}, fmt.Errorf("mqtt broker %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.User != nil {
		b.username = u.User.Username()
		b.password, _ = u.User.Password()
	}
	return b, nil
}
