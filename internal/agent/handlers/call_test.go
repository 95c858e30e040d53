package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
)

func TestParseMeetingURL(t *testing.T) {
	tests := []struct {
		url     string
		id      string
		withPwd bool
	}{
		{"https://zoom.us/j/123456789", "123456789", false},
		{"https://us02web.zoom.us/j/987654321?pwd=abc", "987654321", true},
		{"https://zoom.us/wc/join/1", "", false},
		{"::bad", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, pwd := ParseMeetingURL(tt.url)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.withPwd, pwd)
		})
	}
}

func TestJoinAndLeave(t *testing.T) {
	st, _ := newTestState()
	c := NewCall(st)
	act := &fakeActuator{}
	ctx := context.Background()

	_, err := c.join(ctx, command(core.TypeJoinZoom, map[string]any{"meeting_url": "https://zoom.us/j/123456789"}), act)
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Equal(t, state.StatusCalling, snap.Status)
	require.NotNil(t, snap.CurrentMeeting)
	assert.Equal(t, "123456789", snap.CurrentMeeting.MeetingID)
	assert.Equal(t, []string{"https://zoom.us/j/123456789"}, act.navigated)

	_, err = c.leave(ctx, command(core.TypeLeaveZoom, nil), act)
	require.NoError(t, err)
	assert.Equal(t, 1, act.standby)
	assert.Equal(t, state.StatusIdle, st.Status())
	assert.Nil(t, st.Snapshot().CurrentMeeting)
}

func TestJoinRejectsNonZoom(t *testing.T) {
	st, _ := newTestState()
	act := &fakeActuator{}

	_, err := NewCall(st).join(context.Background(), command(core.TypeJoinZoom, map[string]any{"meeting_url": "https://meet.example.com/j/1"}), act)
	require.EqualError(t, err, "invalid zoom meeting url")
	assert.Empty(t, act.navigated)
}

func TestJoinWhileCallingLeavesFirst(t *testing.T) {
	st, _ := newTestState()
	c := NewCall(st)
	act := &fakeActuator{}
	st.SetMeeting(state.Meeting{MeetingURL: "https://zoom.us/j/1", MeetingID: "1"})

	_, err := c.join(context.Background(), command(core.TypeJoinZoom, map[string]any{
		"meeting_url": "https://zoom.us/j/2",
		"meeting_id":  "override",
	}), act)
	require.NoError(t, err)

	assert.Equal(t, 1, act.standby)
	assert.Equal(t, "override", st.Snapshot().CurrentMeeting.MeetingID)
}

func TestJoinDropsMedia(t *testing.T) {
	st, _ := newTestState()
	st.SetPlaying(state.Media{URL: "https://www.jw.org/a"})

	_, err := NewCall(st).join(context.Background(), command(core.TypeJoinZoom, map[string]any{"meeting_url": "https://zoom.us/j/2"}), &fakeActuator{})
	require.NoError(t, err)
	assert.Nil(t, st.Snapshot().CurrentMedia)
}

func TestLeaveWhenIdle(t *testing.T) {
	st, _ := newTestState()
	act := &fakeActuator{}

	_, err := NewCall(st).leave(context.Background(), command(core.TypeLeaveZoom, nil), act)
	require.NoError(t, err)
	assert.Zero(t, act.standby)
}
