package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// DefaultInboxSize bounds the messages waiting for their handler.
const DefaultInboxSize = 64

var supportedSchemes = map[string]bool{
	"mqtt": true, "tcp": true, "mqtts": true, "ssl": true, "tls": true, "ws": true, "wss": true,
}

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for the initial connection. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectBackoff is the delay between two connection attempts. Default is 3s.
	ReconnectBackoff time.Duration

	// SessionExpiry in seconds, sent in CONNECT.
	SessionExpiry uint32

	CleanStart bool

	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile             string
	InsecureSkipVerify bool

	// InboxSize bounds the received messages not yet handed to a handler.
	// Messages arriving on a full inbox are dropped.
	InboxSize int

	// Last will, published by the broker when the client vanishes.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// OnStateChange is invoked whenever the connection state changes.
	OnStateChange func(state ConnectionState)
}

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 3 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if !supportedSchemes[u.Scheme] {
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("broker url must include a host")
	}
	return nil
}
