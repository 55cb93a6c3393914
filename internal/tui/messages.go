package tui

import (
	"time"

	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
)

// TabIndex represents the currently active tab
type TabIndex int

const (
	TabDashboard TabIndex = iota
	TabProfiles
)

// String returns the tab name
func (t TabIndex) String() string {
	switch t {
	case TabDashboard:
		return "Dashboard"
	case TabProfiles:
		return "Characters"
	default:
		return "Unknown"
	}
}

// TabNames returns all tab names
func TabNames() []string {
	return []string{"Dashboard", "Characters"}
}

const TabCount = 2

// DaemonStatus is the /api/status answer from the running companion.
type DaemonStatus struct {
	Pairing       string               `json:"pairing"`
	Session       relay.PairingSession `json:"session"`
	ActiveProfile string               `json:"activeProfile"`
	UptimeSeconds int                  `json:"uptimeSeconds"`
	Views         int                  `json:"views"`
}

// Custom messages for Bubble Tea

// TickMsg is sent periodically to drive the poll loop
type TickMsg struct {
	Time time.Time
}

// StatusMsg carries a fresh daemon status snapshot (or the poll error)
type StatusMsg struct {
	Status *DaemonStatus
	Err    error
}

// ProfilesMsg carries the merged profile listing (or the poll error)
type ProfilesMsg struct {
	Result profile.MergeResult
	Err    error
}
