package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	apiPrefix = "/api/v1"

	// DefaultTimeout bounds every request.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512

	maxUndecodable = 100
)

// ClientConfig describes how to reach the control plane.
type ClientConfig struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
	UserAgent string

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client talks to the control plane REST API. The appliance is identified
// by its bearer token.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	log       log.Logger

	mu          sync.Mutex
	undecodable map[string]struct{}
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.ServerURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("a bearer token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.ServerURL, "/") + apiPrefix,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout, Transport: cfg.Transport},
		log:       log.WithName("transport"),

		undecodable: make(map[string]struct{}),
	}, nil
}

// FetchCommands returns the commands waiting for this appliance. An entry
// that cannot be decoded is answered with a failed acknowledgment when its id
// can still be read, so the control plane stops redelivering it. Entries
// without a readable id are dropped.
func (c *Client) FetchCommands(ctx context.Context) ([]core.Command, []core.Ack, error) {
	var list commandList
	query := url.Values{"status": []string{"pending"}}
	if err := c.do(ctx, http.MethodGet, "/appliances/commands", query, nil, &list); err != nil {
		return nil, nil, err
	}

	commands := make([]core.Command, 0, len(list.Data))
	var rejected []core.Ack
	for _, raw := range list.Data {
		var cmd core.Command
		err := json.Unmarshal(raw, &cmd)
		if err == nil {
			commands = append(commands, cmd)
			continue
		}

		id := commandID(raw)
		if id == "" {
			c.logUndecodable(raw, err)
			continue
		}
		c.log.Warn("Rejecting undecodable command", "id", id, "error", err)
		rejected = append(rejected, core.FailedAck(id, core.ErrCodeInvalidCommand, "invalid command: "+err.Error(), time.Now()))
	}
	return commands, rejected, nil
}

// logUndecodable reports an entry without id the first time it is seen.
func (c *Client) logUndecodable(raw json.RawMessage, err error) {
	key := string(raw)
	c.mu.Lock()
	_, seen := c.undecodable[key]
	if !seen {
		if len(c.undecodable) >= maxUndecodable {
			clear(c.undecodable)
		}
		c.undecodable[key] = struct{}{}
	}
	c.mu.Unlock()

	if seen {
		return
	}
	c.log.Error(err, "Dropping undecodable command without id", "raw", key)
}

// commandID reads the id of an entry that does not decode as a command.
func commandID(raw json.RawMessage) string {
	var ids struct {
		ID   any `json:"id"`
		UUID any `json:"uuid"`
	}
	if json.Unmarshal(raw, &ids) != nil {
		return ""
	}
	for _, v := range []any{ids.ID, ids.UUID} {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
	}
	return ""
}

// Acknowledge reports the outcome of one command.
func (c *Client) Acknowledge(ctx context.Context, ack core.Ack) error {
	if ack.CommandID == "" {
		return errors.New("acknowledgment without command id")
	}
	return c.do(ctx, http.MethodPost, "/commands/"+url.PathEscape(ack.CommandID)+"/ack", nil, ack, nil)
}

// SendHeartbeat posts telemetry and returns the server's scheduling hint.
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/appliances/heartbeat", nil, hb, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportPlayback posts a media lifecycle event.
func (c *Client) ReportPlayback(ctx context.Context, ev PlaybackEvent) error {
	return c.do(ctx, http.MethodPost, "/appliances/playback", nil, ev, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
