// Package validator checks commands before they reach a handler. It is pure
// and safe for concurrent use.
package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/onesibox/onesibox/internal/agent/core"
)

// Result is the outcome of Validate. Code is set when Valid is false.
type Result struct {
	Valid  bool
	Errors []string
	Code   core.ErrorCode
}

// failure classes, in increasing precedence. Payload and structure
// problems share the malformed code.
type class int

const (
	classNone class = iota
	classPayload
	classStructure
	classExpired
	classURL
	classUnknownType
)

type collector struct {
	errors []string
	worst  class
}

func (c *collector) add(cl class, format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
	if cl > c.worst {
		c.worst = cl
	}
}

// Validate checks structure, expiry and the type-specific payload of cmd
// as of now.
func Validate(cmd *core.Command, now time.Time) Result {
	c := &collector{}

	if cmd == nil {
		c.add(classStructure, "Invalid command structure")
		return c.result()
	}

	if cmd.ID == "" {
		c.add(classStructure, "Command missing id")
	}

	switch {
	case cmd.Type == "":
		c.add(classStructure, "Command missing type")
	case !cmd.Type.Known():
		c.add(classUnknownType, "Unknown command type: %s", cmd.Type)
	}

	switch {
	case cmd.RawExpiresAt != "":
		c.add(classStructure, "Invalid expires_at format")
	case cmd.ExpiresAt != nil && cmd.ExpiresAt.Before(now):
		c.add(classExpired, "Command has expired")
	}

	validatePayload(cmd, c)

	return c.result()
}

func validatePayload(cmd *core.Command, c *collector) {
	switch cmd.Type {
	case core.TypePlayMedia:
		if u, ok := cmd.String("url"); !ok || u == "" {
			c.add(classPayload, "play_media requires url in payload")
		} else if !IsAllowedMediaURL(u) {
			c.add(classURL, "URL not in authorized domain whitelist")
		}
		if mt, _ := cmd.String("media_type"); mt != "video" && mt != "audio" {
			c.add(classPayload, "play_media requires media_type (video|audio) in payload")
		}

	case core.TypeSetVolume:
		if !cmd.Has("level") {
			c.add(classPayload, "set_volume requires level in payload")
		} else if level, ok := cmd.Number("level"); !ok || level < 0 || level > 100 {
			c.add(classPayload, "set_volume level must be 0-100")
		}

	case core.TypeJoinZoom:
		if u, ok := cmd.String("meeting_url"); !ok || u == "" {
			c.add(classPayload, "join_zoom requires meeting_url in payload")
		} else if !IsAllowedMeetingURL(u) {
			c.add(classPayload, "join_zoom meeting_url must be a valid Zoom URL")
		}

	case core.TypeReboot, core.TypeShutdown:
		if cmd.Has("delay") {
			if delay, ok := cmd.Number("delay"); !ok || delay < 0 || delay > 3600 {
				c.add(classPayload, "%s delay must be 0-3600 seconds", cmd.Type)
			}
		}

	case core.TypeGetLogs:
		if cmd.Has("lines") {
			if lines, ok := cmd.Number("lines"); !ok || lines != math.Trunc(lines) || lines < 1 || lines > 500 {
				c.add(classPayload, "get_logs lines must be 1-500")
			}
		}
	}
}

func (c *collector) result() Result {
	if len(c.errors) == 0 {
		return Result{Valid: true}
	}
	return Result{Valid: false, Errors: c.errors, Code: codeFor(c.worst)}
}

func codeFor(cl class) core.ErrorCode {
	switch cl {
	case classUnknownType:
		return core.ErrCodeUnknownType
	case classURL:
		return core.ErrCodeURLNotAllowed
	case classExpired:
		return core.ErrCodeExpired
	default:
		return core.ErrCodeInvalidCommand
	}
}
