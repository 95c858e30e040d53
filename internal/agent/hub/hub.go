package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/mqtt"
	mqtttopic "github.com/onesibox/onesibox/pkg/mqtt/topic"
)

// EventNewCommand is the envelope event announcing a command.
const EventNewCommand = "NewCommand"

const (
	disconnectTimeout = 5 * time.Second

	subscribeRetryBase = 5 * time.Second
	subscribeRetryCap  = 60 * time.Second
)

// BatchProcessor executes commands received on the push channel.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, commands []core.Command)
}

// OnlineStatus is published retained on the online topic. The same payload
// with Online=false is registered as the last will.
type OnlineStatus struct {
	ApplianceID string `json:"appliance_id"`
	Online      bool   `json:"online"`
	Reason      string `json:"reason,omitempty"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub is the push channel. Its status is independent of the connection
// status the pull channel reports for the device.
type Hub struct {
	applianceID string

	mc         mqtt.Client
	topics     *mqtttopic.Builder
	dispatcher BatchProcessor

	mu     sync.RWMutex
	status mqtt.ConnectionState

	clock clock.Clock
	log   log.Logger
}

// New returns a Hub around an existing client. The caller is responsible for
// forwarding connection state changes to OnConnectionState.
func New(client mqtt.Client, topics *mqtttopic.Builder, applianceID string, dispatcher BatchProcessor) *Hub {
	h := &Hub{
		applianceID: applianceID,
		mc:          client,
		topics:      topics,
		dispatcher:  dispatcher,
		status:      mqtt.StateDisconnected,
		clock:       clock.RealClock{},
		log:         log.WithName("hub"),
	}
	metrics.SetCurrent(metrics.PushStatus, string(h.status), allStates...)
	return h
}

// NewFromConfig builds the MQTT client from cfg, registering the offline last
// will and the connection state hook.
func NewFromConfig(cfg *mqtt.ClientConfig, topics *mqtttopic.Builder, applianceID string, dispatcher BatchProcessor) (*Hub, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("onesibox-agent-%s", applianceID)
	}

	// The broker's reception time is authoritative, so the payload carries no timestamp.
	offline, _ := json.Marshal(OnlineStatus{
		ApplianceID: applianceID,
		Online:      false,
		Reason:      "UnexpectedDisconnect",
	})
	cfg.WillTopic = topics.Online(applianceID)
	cfg.WillPayload = offline
	cfg.WillQoS = 1
	cfg.WillRetain = true

	h := New(nil, topics, applianceID, dispatcher)
	cfg.OnStateChange = h.OnConnectionState

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	h.mc = client
	return h, nil
}

var allStates = []string{
	string(mqtt.StateConnected),
	string(mqtt.StateDisconnected),
	string(mqtt.StateReconnecting),
}

// OnConnectionState records a push channel status change. Only transitions
// are logged.
func (h *Hub) OnConnectionState(s mqtt.ConnectionState) {
	h.mu.Lock()
	prev := h.status
	h.status = s
	h.mu.Unlock()

	if prev == s {
		return
	}
	metrics.SetCurrent(metrics.PushStatus, string(s), allStates...)
	h.log.Info("Push channel status changed", "from", prev, "to", s)
}

// Status returns the push channel status.
func (h *Hub) Status() mqtt.ConnectionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Run connects, subscribes to the command topic and blocks until ctx is done.
// Broker and subscription failures are logged and retried; they never end Run.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		if ctx.Err() == nil {
			h.log.Error(err, "Push channel unavailable, relying on polling")
		}
		<-ctx.Done()
		return nil
	}
	defer h.Stop()

	if h.subscribe(ctx) {
		h.publishOnline(ctx, true, "")
	}

	<-ctx.Done()
	return nil
}

// subscribe retries until the command topic is subscribed or ctx is done.
func (h *Hub) subscribe(ctx context.Context) bool {
	topic := h.topics.Commands(h.applianceID)
	delay := subscribeRetryBase
	for {
		err := h.mc.AwaitConnection(ctx)
		if err == nil {
			err = h.mc.Subscribe(ctx, topic, 1, h.handleCommand)
		}
		if err == nil {
			h.log.Info("Subscribed to command channel", "topic", topic)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		h.log.Warn("Failed to subscribe to command channel, retrying", "topic", topic, "delay", delay, "error", err)
		t := h.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C():
		}
		delay = min(delay*2, subscribeRetryCap)
	}
}

func (h *Hub) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	h.publishOnline(ctx, false, "Shutdown")

	h.log.Info("Disconnecting MQTT client...")
	h.mc.Disconnect(ctx)
	h.OnConnectionState(mqtt.StateDisconnected)
}

func (h *Hub) publishOnline(ctx context.Context, online bool, reason string) {
	payload, _ := json.Marshal(OnlineStatus{ApplianceID: h.applianceID, Online: online, Reason: reason})
	if err := h.mc.Publish(ctx, h.topics.Online(h.applianceID), 1, true, payload); err != nil {
		h.log.Warn("Failed to publish online flag", "online", online, "error", err)
	}
}

func (h *Hub) handleCommand(ctx context.Context, topic string, payload []byte) {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		h.log.Error(err, "Discarding push message", "topic", topic)
		return
	}
	if cmd == nil {
		return
	}

	h.log.Info("Command received on push channel", "id", cmd.ID, "type", cmd.Type)
	h.dispatcher.ProcessBatch(ctx, []core.Command{*cmd})
}

// DecodeCommand accepts either a bare command or an {"event","data"}
// envelope. Envelopes for other events yield a nil command.
func DecodeCommand(payload []byte) (*core.Command, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode push message: %w", err)
	}
	if env.Event != "" {
		if env.Event != EventNewCommand {
			return nil, nil
		}
		payload = env.Data
	}

	var cmd core.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}
