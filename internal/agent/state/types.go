package state

import (
	"fmt"
	"time"
)

// Status is the device activity state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPlaying Status = "playing"
	StatusCalling Status = "calling"
	StatusError   Status = "error"
)

// ConnectionStatus reflects the reachability of the control plane as seen by
// the pull channel.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionOffline      ConnectionStatus = "offline"
)

// Valid reports whether c is a known connection status.
func (c ConnectionStatus) Valid() bool {
	switch c {
	case ConnectionConnected, ConnectionReconnecting, ConnectionOffline:
		return true
	}
	return false
}

// Media describes the item currently playing.
type Media struct {
	URL       string    `json:"url"`
	MediaType string    `json:"media_type"`
	StartedAt time.Time `json:"started_at"`
	IsPaused  bool      `json:"is_paused"`
}

// Meeting describes the call the device is in.
type Meeting struct {
	MeetingURL string    `json:"meeting_url"`
	MeetingID  string    `json:"meeting_id,omitempty"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Snapshot is a copy of the device state. Mutating it has no effect on the
// machine.
type Snapshot struct {
	Status           Status           `json:"status"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	CurrentMedia     *Media           `json:"current_media"`
	CurrentMeeting   *Meeting         `json:"current_meeting"`
	Volume           int              `json:"volume"`
	LastHeartbeat    *time.Time       `json:"last_heartbeat"`
}

// ChangeKind tells listeners which part of the state moved.
type ChangeKind int

const (
	StatusChanged ChangeKind = iota
	ConnectionChanged
	PauseChanged
	VolumeChanged
)

func (k ChangeKind) String() string {
	switch k {
	case StatusChanged:
		return "status"
	case ConnectionChanged:
		return "connection"
	case PauseChanged:
		return "pause"
	case VolumeChanged:
		return "volume"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is delivered to listeners after every mutation. From and To are
// only meaningful for the kind that changed.
type Change struct {
	Kind     ChangeKind
	From, To Status
	FromConn ConnectionStatus
	ToConn   ConnectionStatus
	Snapshot Snapshot
}

// Listener observes state changes. It is called without the machine lock
// held, and must not block.
type Listener func(Change)
