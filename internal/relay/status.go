package relay

import "log"

// CommandStatus represents valid command lifecycle states.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusProcessing CommandStatus = "processing"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
)

// validTransitions defines the allowed status transitions for command records.
// Any transition not listed here is invalid and will be rejected. There are no
// backward edges: completed and failed rows never re-enter the lifecycle, and
// cleanup of old rows happens on the relay, not here.
var validTransitions = map[CommandStatus]map[CommandStatus]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// TransitionStatus validates and performs a command status transition.
// Returns the new status if valid, or the current status if the transition
// is invalid.
func TransitionStatus(current, desired CommandStatus) CommandStatus {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATUS] Invalid command transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// IsTerminal returns true if the status is a final state.
func IsTerminal(status CommandStatus) bool {
	return status == StatusCompleted || status == StatusFailed
}
