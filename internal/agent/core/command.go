package core

import (
	"encoding/json"
	"math"
	"time"
)

// CommandType names an instruction the control plane may issue.
type CommandType string

const (
	TypePlayMedia      CommandType = "play_media"
	TypeStopMedia      CommandType = "stop_media"
	TypePauseMedia     CommandType = "pause_media"
	TypeResumeMedia    CommandType = "resume_media"
	TypeSetVolume      CommandType = "set_volume"
	TypeJoinZoom       CommandType = "join_zoom"
	TypeLeaveZoom      CommandType = "leave_zoom"
	TypeReboot         CommandType = "reboot"
	TypeShutdown       CommandType = "shutdown"
	TypeRestartService CommandType = "restart_service"
	TypeGetSystemInfo  CommandType = "get_system_info"
	TypeGetLogs        CommandType = "get_logs"
)

var knownTypes = map[CommandType]struct{}{
	TypePlayMedia:      {},
	TypeStopMedia:      {},
	TypePauseMedia:     {},
	TypeResumeMedia:    {},
	TypeSetVolume:      {},
	TypeJoinZoom:       {},
	TypeLeaveZoom:      {},
	TypeReboot:         {},
	TypeShutdown:       {},
	TypeRestartService: {},
	TypeGetSystemInfo:  {},
	TypeGetLogs:        {},
}

// Known reports whether t is one of the supported command types.
func (t CommandType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Command is a unit of work issued by the control plane. It is treated as
// immutable once decoded.
type Command struct {
	ID        string
	Type      CommandType
	Payload   map[string]any
	ExpiresAt *time.Time

	// RawExpiresAt keeps an expires_at value that could not be parsed so
	// that validation can reject it instead of silently ignoring it.
	RawExpiresAt string
}

type wireCommand struct {
	ID        string         `json:"id,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	Type      CommandType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt *string        `json:"expires_at,omitempty"`
}

// UnmarshalJSON accepts both "id" and "uuid" as the identifier.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*c = Command{ID: w.ID, Type: w.Type, Payload: w.Payload}
	if c.ID == "" {
		c.ID = w.UUID
	}

	if w.ExpiresAt != nil && *w.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, *w.ExpiresAt); err == nil {
			c.ExpiresAt = &t
		} else {
			c.RawExpiresAt = *w.ExpiresAt
		}
	}
	return nil
}

// MarshalJSON writes the command in the control plane's shape.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{ID: c.ID, Type: c.Type, Payload: c.Payload}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.UTC().Format(time.RFC3339Nano)
		w.ExpiresAt = &s
	} else if c.RawExpiresAt != "" {
		w.ExpiresAt = &c.RawExpiresAt
	}
	return json.Marshal(w)
}

// Priority is derived from the command type; lower runs first.
func (c *Command) Priority() int {
	return PriorityOf(c.Type)
}

// String returns a string payload field.
func (c *Command) String(key string) (string, bool) {
	v, ok := c.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns a numeric payload field. Only finite JSON numbers qualify.
func (c *Command) Number(key string) (float64, bool) {
	v, ok := c.Payload[key]
	if !ok {
		return 0, false
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Has reports whether the payload carries key at all.
func (c *Command) Has(key string) bool {
	_, ok := c.Payload[key]
	return ok
}
