package transport

import (
	"encoding/json"
	"time"

	"github.com/onesibox/onesibox/internal/agent/state"
)

// Heartbeat is the telemetry document posted to the control plane.
type Heartbeat struct {
	Status           state.Status           `json:"status"`
	ConnectionStatus state.ConnectionStatus `json:"connection_status"`
	CurrentMedia     *HeartbeatMedia        `json:"current_media"`
	CurrentMeeting   *HeartbeatMeeting      `json:"current_meeting"`
	Volume           int                    `json:"volume"`
	CPUUsage         float64                `json:"cpu_usage"`
	MemoryUsage      float64                `json:"memory_usage"`
	DiskUsage        float64                `json:"disk_usage"`
	Temperature      *float64               `json:"temperature"`
	Uptime           int64                  `json:"uptime"`
	Timestamp        time.Time              `json:"timestamp"`
}

type HeartbeatMedia struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	IsPaused  bool   `json:"is_paused"`
}

type HeartbeatMeeting struct {
	MeetingURL string `json:"meeting_url"`
	MeetingID  string `json:"meeting_id,omitempty"`
}

// HeartbeatResponse may carry the server's preferred delay, in seconds,
// before the next heartbeat.
type HeartbeatResponse struct {
	NextHeartbeat *float64 `json:"next_heartbeat,omitempty"`
	NextInterval  *float64 `json:"next_interval,omitempty"`
}

// Next returns the requested delay, or zero when the server has no opinion.
func (r *HeartbeatResponse) Next() time.Duration {
	if r == nil {
		return 0
	}
	for _, v := range []*float64{r.NextHeartbeat, r.NextInterval} {
		if v != nil && *v > 0 {
			return time.Duration(*v * float64(time.Second))
		}
	}
	return 0
}

// PlaybackEvent reports a media lifecycle change.
type PlaybackEvent struct {
	Event     string    `json:"event"` // started/stopped/paused/resumed
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Position  float64   `json:"position"`
	Duration  *float64  `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// commandList is decoded entry by entry so that one malformed command does
// not hide the rest of the queue.
type commandList struct {
	Data []json.RawMessage `json:"data"`
}
