package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RuntimeOptions)(nil)

// RuntimeOptions tune the agent loops.
type RuntimeOptions struct {
	PollingInterval   time.Duration `json:"polling-interval" mapstructure:"polling-interval"`
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
	DefaultVolume     int           `json:"default-volume" mapstructure:"default-volume"`

	AckQueueSize  int `json:"ack-queue-size" mapstructure:"ack-queue-size"`
	AckMaxRetries int `json:"ack-max-retries" mapstructure:"ack-max-retries"`

	// ServiceName is the systemd unit restarted by the restart_service command.
	ServiceName string `json:"service-name" mapstructure:"service-name"`
}

// NewRuntimeOptions creates RuntimeOptions with default values.
func NewRuntimeOptions() *RuntimeOptions {
	return &RuntimeOptions{
		PollingInterval:   5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		DefaultVolume:     80,
		AckQueueSize:      50,
		AckMaxRetries:     3,
		ServiceName:       "onesibox.service",
	}
}

// Validate enforces the lower bounds of the loop intervals.
func (o *RuntimeOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.PollingInterval < time.Second {
		errors = append(errors, fmt.Errorf("agent.polling-interval must be at least 1s, got %s", o.PollingInterval))
	}
	if o.HeartbeatInterval < 10*time.Second {
		errors = append(errors, fmt.Errorf("agent.heartbeat-interval must be at least 10s, got %s", o.HeartbeatInterval))
	}
	if o.DefaultVolume < 0 || o.DefaultVolume > 100 {
		errors = append(errors, fmt.Errorf("agent.default-volume must be between 0 and 100, got %d", o.DefaultVolume))
	}
	if o.AckQueueSize < 1 {
		errors = append(errors, fmt.Errorf("agent.ack-queue-size must be positive"))
	}
	if o.AckMaxRetries < 1 {
		errors = append(errors, fmt.Errorf("agent.ack-max-retries must be positive"))
	}

	return errors
}

// AddFlags adds flags for RuntimeOptions to the specified FlagSet.
func (o *RuntimeOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollingInterval, "agent.polling-interval", o.PollingInterval, "Interval between two polls of the command queue.")
	fs.DurationVar(&o.HeartbeatInterval, "agent.heartbeat-interval", o.HeartbeatInterval, "Default interval between two heartbeats.")
	fs.IntVar(&o.DefaultVolume, "agent.default-volume", o.DefaultVolume, "Volume applied at startup (0-100).")
	fs.IntVar(&o.AckQueueSize, "agent.ack-queue-size", o.AckQueueSize, "Capacity of the acknowledgment retry queue.")
	fs.IntVar(&o.AckMaxRetries, "agent.ack-max-retries", o.AckMaxRetries, "Delivery attempts for a queued acknowledgment before it is dropped.")
	fs.StringVar(&o.ServiceName, "agent.service-name", o.ServiceName, "Systemd unit restarted by the restart_service command.")
}
