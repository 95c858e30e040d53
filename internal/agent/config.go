package agent

import (
	"fmt"

	"github.com/onesibox/onesibox/internal/agent/actuator"
	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/dispatcher"
	"github.com/onesibox/onesibox/internal/agent/hal"
	"github.com/onesibox/onesibox/internal/agent/handlers"
	"github.com/onesibox/onesibox/internal/agent/heartbeat"
	"github.com/onesibox/onesibox/internal/agent/hub"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/statusserver"
	"github.com/onesibox/onesibox/internal/agent/transport"
	"github.com/onesibox/onesibox/internal/agent/watchdog"
	mqtttopic "github.com/onesibox/onesibox/pkg/mqtt/topic"
	"github.com/onesibox/onesibox/pkg/options"
	"github.com/onesibox/onesibox/pkg/version"
)

type Config struct {
	ServerOptions  *options.ServerOptions
	RuntimeOptions *options.RuntimeOptions
	MqttOptions    *options.MqttOptions
	HttpOptions    *options.HttpOptions
	BrowserOptions *options.BrowserOptions

	// LogFile is the file get_logs reads from; empty when logging to the
	// console only.
	LogFile string

	// HAL overrides the platform layer, mainly for tests.
	HAL core.HAL
}

// NewAgent wires every component. Nothing is started.
func (cfg *Config) NewAgent() (*Agent, error) {
	systemHAL := cfg.HAL
	if systemHAL == nil {
		systemHAL = hal.New()
	}

	rt := cfg.RuntimeOptions
	st := state.New(state.WithVolume(rt.DefaultVolume))

	client, err := transport.NewClient(transport.ClientConfig{
		ServerURL: cfg.ServerOptions.URL,
		Token:     cfg.ServerOptions.Token,
		Timeout:   cfg.ServerOptions.RequestTimeout,
		UserAgent: "onesibox-agent/" + version.Get().GitVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init control plane client: %w", err)
	}

	act, err := actuator.NewFromOptions(cfg.BrowserOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to init actuator: %w", err)
	}

	acks := transport.NewAckQueue(rt.AckQueueSize, rt.AckMaxRetries)
	disp := dispatcher.New(act, st, client, acks)
	if err := disp.Register(
		handlers.NewMedia(st, client, act.StandbyURL()),
		handlers.NewCall(st),
		handlers.NewVolume(systemHAL, st),
		handlers.NewSystem(systemHAL, st, rt.ServiceName, nil),
		handlers.NewDiagnostics(systemHAL, cfg.LogFile),
	); err != nil {
		return nil, err
	}

	var push *hub.Hub
	if cfg.MqttOptions.Enabled {
		topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
		push, err = hub.NewFromConfig(cfg.MqttOptions.ToClientConfig(), topics, cfg.ServerOptions.ApplianceID, disp)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
	}

	var pushStatus statusserver.PushStatus
	if push != nil {
		pushStatus = push
	}

	return &Agent{
		applianceID: cfg.ServerOptions.ApplianceID,
		volume:      rt.DefaultVolume,
		hal:         systemHAL,
		state:       st,
		actuator:    act,
		dispatcher:  disp,
		poller: transport.NewPoller(transport.PollerConfig{
			Source:     client,
			Dispatcher: disp,
			State:      st,
			Acks:       acks,
			Interval:   rt.PollingInterval,
		}),
		heartbeat: heartbeat.New(heartbeat.Config{
			Sender:   client,
			State:    st,
			System:   systemHAL,
			Interval: rt.HeartbeatInterval,
		}),
		hub:      push,
		watchdog: watchdog.New(),
		status:   statusserver.NewServer(cfg.HttpOptions, st, pushStatus),
	}, nil
}
