package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/onesibox/onesibox/pkg/log"
)

type message struct {
	topic   string
	payload []byte
}

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager
	log log.Logger

	connected atomic.Bool

	mu            sync.RWMutex
	subscriptions map[string]subscriptionEntry

	// inbox hands received messages to a single worker so handlers see
	// them in arrival order.
	inbox chan message
	stop  chan struct{}
	once  sync.Once
}

type subscriptionEntry struct {
	qos     int
	handler MessageHandler
}

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:           cfg,
		log:           log.WithName("mqtt"),
		subscriptions: make(map[string]subscriptionEntry),
		inbox:         make(chan message, cfg.InboxSize),
		stop:          make(chan struct{}),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL)

	tlsCfg, err := c.tlsConfig()
	if err != nil {
		return err
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectBackoff),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        tlsCfg,
		WillMessage:                   c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.receive,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	c.log.Info("Starting MQTT Client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	go c.deliver()
	return nil
}

func (c *pahoClient) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
	if c.cfg.CAFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(c.cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read mqtt ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.cfg.CAFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	c.once.Do(func() { close(c.stop) })
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		c.setState(StateDisconnected)
		c.log.Info("MQTT Client disconnected")
	}
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	// Stored first so that onConnectionUp re-subscribes after a reconnect.
	c.mu.Lock()
	c.subscriptions[topic] = subscriptionEntry{qos: qos, handler: handler}
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, subscribePacket(topic, qos)); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	c.log.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) setState(state ConnectionState) {
	c.connected.Store(state == StateConnected)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

func subscribePacket(topic string, qos int) *paho.Subscribe {
	return &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: byte(qos)}},
	}
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.log.Info("MQTT Connection established")
	c.setState(StateConnected)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, entry := range c.subscriptions {
		if _, err := cm.Subscribe(context.Background(), subscribePacket(topic, entry.qos)); err != nil {
			c.log.Error(err, "Failed to re-subscribe", "topic", topic)
		}
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.log.Warn("MQTT Connection failed, retrying", "error", err)
	c.setState(StateReconnecting)
}

func (c *pahoClient) onClientError(err error) {
	c.log.Error(err, "MQTT Client internal error")
	c.setState(StateReconnecting)
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.log.Warn("MQTT Server requested disconnect", "reason", reason)
	c.setState(StateReconnecting)
}

// receive runs on the paho reader loop and must not block.
func (c *pahoClient) receive(p paho.PublishReceived) (bool, error) {
	select {
	case c.inbox <- message{topic: p.Packet.Topic, payload: p.Packet.Payload}:
	default:
		c.log.Warn("Inbox full, dropping message", "topic", p.Packet.Topic)
	}
	return true, nil
}

func (c *pahoClient) deliver() {
	for {
		select {
		case <-c.stop:
			return
		case m := <-c.inbox:
			c.route(m)
		}
	}
}

func (c *pahoClient) route(m message) {
	c.mu.RLock()
	var handlers []MessageHandler
	for filter, entry := range c.subscriptions {
		if topicsMatch(filter, m.topic) {
			handlers = append(handlers, entry.handler)
		}
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("Received message on unhandled topic", "topic", m.topic)
		return
	}
	for _, h := range handlers {
		h(context.Background(), m.topic, m.payload)
	}
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

// topicsMatch reports whether topic matches filter, honoring + and #.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
