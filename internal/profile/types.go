// Package profile holds the locally cached character profiles and the
// reconciliation logic that merges them with the relay's copies.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Source says which application a cached profile originally came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// SlotPool is a spendable pool, used for spell slots per level.
type SlotPool struct {
	Max  int `json:"max"`
	Used int `json:"used"`
}

// Remaining returns how many uses are left in the pool.
func (p SlotPool) Remaining() int {
	if p.Used > p.Max {
		return 0
	}
	return p.Max - p.Used
}

// ActionUse tracks a limited-use feature (Second Wind, Rage, ...).
// Recharge is "short" or "long" and controls which rest resets it.
type ActionUse struct {
	Max      int    `json:"max"`
	Used     int    `json:"used"`
	Recharge string `json:"recharge,omitempty"`
}

// Sheet is the character sheet payload commands execute against. Only the
// fields the command handlers touch are modeled; anything else the sheet
// application stores rides along in the slot untouched.
type Sheet struct {
	Name       string                `json:"name"`
	Class      string                `json:"class"`
	Level      int                   `json:"level"`
	HP         int                   `json:"hp"`
	MaxHP      int                   `json:"max_hp"`
	TempHP     int                   `json:"temp_hp,omitempty"`
	AC         int                   `json:"ac,omitempty"`
	Color      string                `json:"color,omitempty"`
	AvatarURL  string                `json:"avatar_url,omitempty"`
	Abilities  map[string]int        `json:"abilities,omitempty"`
	SpellSlots map[int]*SlotPool     `json:"spell_slots,omitempty"`
	Actions    map[string]*ActionUse `json:"actions,omitempty"`
}

// Profile is one entry of the profile cache. HasRemoteCopy is only ever set
// on merged views, never on stored entries.
type Profile struct {
	SlotKey       string    `json:"slot_key"`
	ExternalID    string    `json:"external_id,omitempty"`
	Source        Source    `json:"source"`
	HasRemoteCopy bool      `json:"has_remote_copy,omitempty"`
	Sheet         Sheet     `json:"sheet"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Fingerprint returns the identity key used to match copies of the same
// character across stores when no explicit link exists.
func (p Profile) Fingerprint() string {
	return Fingerprint(p.Sheet.Name, p.Sheet.Class, p.Sheet.Level)
}

// Fingerprint builds the name|class|level identity key. Matching is
// case-insensitive and ignores surrounding whitespace, so "  Aria " and
// "aria" are the same character.
func Fingerprint(name, class string, level int) string {
	name = strings.ToLower(strings.TrimSpace(name))
	class = strings.ToLower(strings.TrimSpace(class))
	return fmt.Sprintf("%s|%s|%d", name, class, level)
}

// IsManualSlot reports whether a slot was assigned by hand. The background
// sync creates slots with an "auto-" prefix; everything else counts as
// manual and wins ties during reconciliation.
func IsManualSlot(slotKey string) bool {
	return !strings.HasPrefix(slotKey, "auto-")
}
