// Package state holds the device status machine. The machine is owned by the
// agent and injected into the components that read or drive it.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/onesibox/onesibox/internal/pkg/util/fsm"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	EventPlay    = "play"
	EventStop    = "stop"
	EventCall    = "call"
	EventHangup  = "hangup"
	EventFail    = "fail"
	EventRecover = "recover"
	EventReset   = "reset"
)

// RecoveryDelay is how long the device stays in the error state before it
// returns to idle on its own.
const RecoveryDelay = 10 * time.Second

// DefaultVolume is the volume reported before any volume command.
const DefaultVolume = 80

// Machine tracks the device status, the connection status and the active
// media or meeting. It is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	fsm   *fsm.FSM
	clock clock.WithDelayedExecution
	log   log.Logger

	connection    ConnectionStatus
	media         *Media
	meeting       *Meeting
	volume        int
	lastHeartbeat *time.Time

	recovery    clock.Timer
	recoveryGen uint64

	listeners    map[uint64]Listener
	nextListener uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger used for transitions.
func WithLogger(l log.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithVolume sets the initial volume.
func WithVolume(level int) Option {
	return func(m *Machine) { m.volume = clampVolume(level) }
}

// New returns a machine in the idle state. The connection is considered
// reconnecting until the first poll completes.
func New(opts ...Option) *Machine {
	m := &Machine{
		clock:      clock.RealClock{},
		log:        log.WithName("state"),
		connection: ConnectionReconnecting,
		volume:     DefaultVolume,
		listeners:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}

	all := []string{string(StatusIdle), string(StatusPlaying), string(StatusCalling), string(StatusError)}

	events := fsm.Events{
		{Name: EventPlay, Src: all, Dst: string(StatusPlaying)},
		{Name: EventStop, Src: []string{string(StatusIdle), string(StatusPlaying), string(StatusError)}, Dst: string(StatusIdle)},
		{Name: EventCall, Src: all, Dst: string(StatusCalling)},
		{Name: EventHangup, Src: []string{string(StatusIdle), string(StatusCalling)}, Dst: string(StatusIdle)},
		{Name: EventFail, Src: all, Dst: string(StatusError)},
		{Name: EventRecover, Src: []string{string(StatusError)}, Dst: string(StatusIdle)},
		{Name: EventReset, Src: all, Dst: string(StatusIdle)},
	}

	callbacks := fsm.Callbacks{
		// Side-effects of an event run even on self-transitions.
		"after_" + EventPlay:    fsmutil.WrapEvent(m.actionPlay),
		"after_" + EventStop:    fsmutil.WrapEvent(m.actionClearMedia),
		"after_" + EventCall:    fsmutil.WrapEvent(m.actionCall),
		"after_" + EventHangup:  fsmutil.WrapEvent(m.actionClearMeeting),
		"after_" + EventFail:    fsmutil.WrapEvent(m.actionScheduleRecovery),
		"after_" + EventRecover: fsmutil.WrapEvent(m.actionClearAll),
		"after_" + EventReset:   fsmutil.WrapEvent(m.actionClearAll),

		"enter_state": fsmutil.WrapEvent(m.actionEnterState),
	}

	m.fsm = fsm.NewFSM(string(StatusIdle), events, callbacks)
	return m
}

// SetPlaying marks media as playing. Any meeting is dropped.
func (m *Machine) SetPlaying(media Media) {
	m.mu.Lock()
	if media.StartedAt.IsZero() {
		media.StartedAt = m.clock.Now()
	}
	media.IsPaused = false
	change, ok := m.fire(EventPlay, media)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// StopPlaying clears the current media and returns to idle. It is ignored
// during a call.
func (m *Machine) StopPlaying() {
	m.mu.Lock()
	change, ok := m.fire(EventStop)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// SetPaused flags the current media as paused or playing.
func (m *Machine) SetPaused(paused bool) {
	m.mu.Lock()
	if m.media != nil {
		m.media.IsPaused = paused
	}
	change := Change{Kind: PauseChanged, Snapshot: m.snapshotLocked()}
	m.mu.Unlock()

	m.notify(change)
}

// SetMeeting enters a call. Any media is dropped.
func (m *Machine) SetMeeting(meeting Meeting) {
	m.mu.Lock()
	if meeting.JoinedAt.IsZero() {
		meeting.JoinedAt = m.clock.Now()
	}
	change, ok := m.fire(EventCall, meeting)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// LeaveMeeting ends the current call.
func (m *Machine) LeaveMeeting() {
	m.mu.Lock()
	change, ok := m.fire(EventHangup)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// SetError enters the error state and schedules the return to idle after
// RecoveryDelay. Calling it again restarts the delay.
func (m *Machine) SetError(reason string) {
	m.mu.Lock()
	m.log.Error(errors.New(reason), "Entering error state")
	change, ok := m.fire(EventFail)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// SetIdle returns to idle from any state, clearing media and meeting.
func (m *Machine) SetIdle() {
	m.mu.Lock()
	change, ok := m.fire(EventReset)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// SetVolume stores level clamped to [0,100] and returns the stored value.
func (m *Machine) SetVolume(level int) int {
	m.mu.Lock()
	m.volume = clampVolume(level)
	stored := m.volume
	change := Change{Kind: VolumeChanged, Snapshot: m.snapshotLocked()}
	m.mu.Unlock()

	m.log.Info("Volume changed", "level", stored)
	m.notify(change)
	return stored
}

// SetConnectionStatus records the pull channel's view of the control plane.
// An unknown value is a programming error and panics.
func (m *Machine) SetConnectionStatus(status ConnectionStatus) {
	if !status.Valid() {
		panic(fmt.Sprintf("state: invalid connection status %q", status))
	}

	m.mu.Lock()
	from := m.connection
	if from == status {
		m.mu.Unlock()
		return
	}
	m.connection = status
	change := Change{Kind: ConnectionChanged, FromConn: from, ToConn: status, Snapshot: m.snapshotLocked()}
	m.mu.Unlock()

	m.log.Info("Connection status changed", "from", from, "to", status)
	m.notify(change)
}

// MarkHeartbeat records the time of the last delivered heartbeat.
func (m *Machine) MarkHeartbeat(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = &at
}

// Status returns the current device status.
func (m *Machine) Status() Status {
	return Status(m.fsm.Current())
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers l for every change. The returned func removes it.
// Listeners may run on the recovery timer's goroutine.
func (m *Machine) Subscribe(l Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// fire runs event with m.mu held. Events that do not apply to the current
// state are ignored; any other FSM failure means the tables are wrong.
func (m *Machine) fire(event string, args ...any) (Change, bool) {
	from := Status(m.fsm.Current())

	err := m.fsm.Event(context.Background(), event, args...)
	switch {
	case fsmutil.IsInvalidEvent(err):
		m.log.Warn("Ignoring state event", "event", event, "status", from)
		return Change{}, false
	case fsmutil.IsRealError(err):
		panic(fmt.Sprintf("state: event %q from %q: %v", event, from, err))
	}

	to := Status(m.fsm.Current())
	if from != to {
		m.log.Info("Status changed", "from", from, "to", to)
	} else {
		m.log.Debug("Status refreshed", "status", to, "event", event)
	}

	return Change{Kind: StatusChanged, From: from, To: to, Snapshot: m.snapshotLocked()}, true
}

func (m *Machine) notify(change Change) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

func (m *Machine) actionPlay(_ context.Context, e *fsm.Event) error {
	media := e.Args[0].(Media)
	m.media = &media
	m.meeting = nil
	return nil
}

func (m *Machine) actionCall(_ context.Context, e *fsm.Event) error {
	meeting := e.Args[0].(Meeting)
	m.meeting = &meeting
	m.media = nil
	return nil
}

func (m *Machine) actionClearMedia(context.Context, *fsm.Event) error {
	m.media = nil
	return nil
}

func (m *Machine) actionClearMeeting(context.Context, *fsm.Event) error {
	m.meeting = nil
	return nil
}

func (m *Machine) actionClearAll(context.Context, *fsm.Event) error {
	m.media = nil
	m.meeting = nil
	return nil
}

// actionEnterState cancels a pending recovery once the machine leaves the
// error state by any other route.
func (m *Machine) actionEnterState(_ context.Context, e *fsm.Event) error {
	if e.Dst != string(StatusError) {
		m.stopRecoveryLocked()
	}
	return nil
}

func (m *Machine) actionScheduleRecovery(context.Context, *fsm.Event) error {
	m.stopRecoveryLocked()

	m.recoveryGen++
	gen := m.recoveryGen
	m.recovery = m.clock.AfterFunc(RecoveryDelay, func() { m.autoRecover(gen) })
	return nil
}

func (m *Machine) stopRecoveryLocked() {
	if m.recovery != nil {
		m.recovery.Stop()
		m.recovery = nil
	}
}

// autoRecover runs on the timer. It must not call into the clock: fake
// clocks invoke it with their own lock held.
func (m *Machine) autoRecover(gen uint64) {
	m.mu.Lock()
	if gen != m.recoveryGen || m.recovery == nil {
		m.mu.Unlock()
		return
	}
	m.recovery = nil

	m.log.Info("Auto-recovering from error state")
	change, ok := m.fire(EventRecover)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:           Status(m.fsm.Current()),
		ConnectionStatus: m.connection,
		Volume:           m.volume,
	}
	if m.media != nil {
		media := *m.media
		s.CurrentMedia = &media
	}
	if m.meeting != nil {
		meeting := *m.meeting
		s.CurrentMeeting = &meeting
	}
	if m.lastHeartbeat != nil {
		hb := *m.lastHeartbeat
		s.LastHeartbeat = &hb
	}
	return s
}

func clampVolume(level int) int {
	return max(0, min(100, level))
}
