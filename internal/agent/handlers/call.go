package handlers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/validator"
	"github.com/onesibox/onesibox/pkg/log"
)

// Call handles video meetings.
type Call struct {
	state DeviceState
	log   log.Logger
}

func NewCall(st DeviceState) *Call {
	return &Call{state: st, log: log.WithName("call")}
}

func (c *Call) Name() string { return "call" }

func (c *Call) Routes() map[core.CommandType]core.HandlerFunc {
	return map[core.CommandType]core.HandlerFunc{
		core.TypeJoinZoom:  c.join,
		core.TypeLeaveZoom: c.leave,
	}
}

// ParseMeetingURL extracts the meeting id from a /j/{id} path and reports
// whether a password is embedded.
func ParseMeetingURL(raw string) (id string, hasPassword bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if p == "j" && i+1 < len(parts) {
			id = parts[i+1]
			break
		}
	}
	return id, u.Query().Get("pwd") != ""
}

func (c *Call) join(ctx context.Context, cmd *core.Command, act core.Actuator) (map[string]any, error) {
	meetingURL, _ := cmd.String("meeting_url")
	if !validator.IsAllowedMeetingURL(meetingURL) {
		return nil, errors.New("invalid zoom meeting url")
	}

	c.log.Info("Joining Zoom meeting", "meetingUrl", meetingURL)

	if c.state.Snapshot().Status == state.StatusCalling {
		c.log.Info("Already in a meeting, leaving first")
		if _, err := c.leave(ctx, cmd, act); err != nil {
			return nil, err
		}
	}

	parsedID, hasPassword := ParseMeetingURL(meetingURL)
	meetingID, _ := cmd.String("meeting_id")
	if meetingID == "" {
		meetingID = parsedID
	}
	if pwd, _ := cmd.String("password"); pwd != "" {
		hasPassword = true
	}

	if err := act.Navigate(ctx, meetingURL); err != nil {
		return nil, err
	}
	// Entering the call drops any media still recorded.
	c.state.SetMeeting(state.Meeting{MeetingURL: meetingURL, MeetingID: meetingID})

	c.log.Info("Zoom meeting joined", "meetingId", meetingID, "hasPassword", hasPassword)
	return nil, nil
}

func (c *Call) leave(ctx context.Context, _ *core.Command, act core.Actuator) (map[string]any, error) {
	snap := c.state.Snapshot()
	if snap.Status != state.StatusCalling {
		c.log.Info("Not in a meeting, nothing to leave")
		return nil, nil
	}

	meetingID := ""
	if snap.CurrentMeeting != nil {
		meetingID = snap.CurrentMeeting.MeetingID
	}
	c.log.Info("Leaving Zoom meeting", "meetingId", meetingID)

	if err := act.GoToStandby(ctx); err != nil {
		return nil, err
	}
	c.state.LeaveMeeting()
	c.log.Info("Zoom meeting left")
	return nil, nil
}
