package core

// Priorities, lower runs first.
const (
	PriorityCritical    = 1 // power, service and call commands
	PriorityMedia       = 2
	PriorityVolume      = 3
	PriorityDiagnostics = 4
	PriorityUnknown     = 5
)

var priorities = map[CommandType]int{
	TypeReboot:         PriorityCritical,
	TypeShutdown:       PriorityCritical,
	TypeRestartService: PriorityCritical,
	TypeJoinZoom:       PriorityCritical,
	TypeLeaveZoom:      PriorityCritical,

	TypePlayMedia:   PriorityMedia,
	TypeStopMedia:   PriorityMedia,
	TypePauseMedia:  PriorityMedia,
	TypeResumeMedia: PriorityMedia,

	TypeSetVolume: PriorityVolume,

	TypeGetSystemInfo: PriorityDiagnostics,
	TypeGetLogs:       PriorityDiagnostics,
}

// PriorityOf returns the fixed priority of a command type.
func PriorityOf(t CommandType) int {
	if p, ok := priorities[t]; ok {
		return p
	}
	return PriorityUnknown
}
