// Package handlers implements the command families the agent executes.
// Each family is a core.Module registered with the dispatcher.
package handlers

import (
	"context"
	"time"

	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/transport"
)

// AckGrace delays actions that take the agent down so that their
// acknowledgment can still be delivered.
const AckGrace = time.Second

// DeviceState is the part of the state machine handlers drive.
type DeviceState interface {
	Snapshot() state.Snapshot
	SetPlaying(media state.Media)
	StopPlaying()
	SetPaused(paused bool)
	SetMeeting(meeting state.Meeting)
	LeaveMeeting()
	SetIdle()
	SetVolume(level int) int
}

// PlaybackReporter forwards media lifecycle events to the control plane.
type PlaybackReporter interface {
	ReportPlayback(ctx context.Context, ev transport.PlaybackEvent) error
}
