package profile

import (
	"encoding/json"
	"log"
	"sort"
	"strings"

	"github.com/sheetlink/companion/internal/relay"
)

// MergeResult is the deduplicated selection list plus how it was produced.
// RemoteAvailable is false when the relay could not be reached; the list is
// then local-only and still usable.
type MergeResult struct {
	Profiles        []Profile `json:"profiles"`
	RemoteAvailable bool      `json:"remote_available"`
	Matched         int       `json:"matched"`
	Appended        int       `json:"appended"`
}

// Reconciler merges the local profile cache with the relay's profile rows
// into one entry per character. Local data is authoritative for gameplay
// fields; only display fields are taken from the remote copy.
type Reconciler struct{}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Merge walks the local profiles first, attaching at most one remote copy to
// each (by external ID, then by fingerprint), then appends remote rows no
// local profile claimed. Two locals resolving to the same identity collapse
// into one entry, manual slots winning over auto slots.
func (r *Reconciler) Merge(local map[string]Profile, remote []relay.RemoteProfile) MergeResult {
	byID := make(map[string]int, len(remote))
	byFP := make(map[string][]int, len(remote))
	for i, rp := range remote {
		byID[rp.ID] = i
		fp := Fingerprint(rp.Name, rp.Class, rp.Level)
		byFP[fp] = append(byFP[fp], i)
	}

	slotKeys := make([]string, 0, len(local))
	for key := range local {
		slotKeys = append(slotKeys, key)
	}
	sort.Strings(slotKeys)

	entries := make(map[string]Profile)
	order := make([]string, 0, len(local))
	claimed := make(map[int]bool)
	matched := 0

	for _, slotKey := range slotKeys {
		lp := local[slotKey]
		idx, found := r.findRemote(lp, byID, byFP, remote)

		var identity string
		if found {
			identity = "remote:" + remote[idx].ID
			if !claimed[idx] {
				matched++
			}
			claimed[idx] = true
		} else {
			identity = "fp:" + lp.Fingerprint()
		}

		merged := lp
		if found {
			merged = applyRemote(lp, remote[idx])
		}

		if existing, ok := entries[identity]; ok {
			if outranks(merged, existing) {
				log.Printf("🔀 [MERGE] Slot %s replaces %s for %s (manual over auto)", merged.SlotKey, existing.SlotKey, merged.Sheet.Name)
				entries[identity] = merged
			}
			continue
		}
		entries[identity] = merged
		order = append(order, identity)
	}

	appended := 0
	seenFP := make(map[string]bool)
	for i, rp := range remote {
		if claimed[i] {
			continue
		}
		fp := Fingerprint(rp.Name, rp.Class, rp.Level)
		if seenFP[fp] {
			continue
		}
		seenFP[fp] = true
		identity := "remote:" + rp.ID
		entries[identity] = remoteEntry(rp)
		order = append(order, identity)
		appended++
	}

	out := make([]Profile, 0, len(order))
	for _, identity := range order {
		out = append(out, entries[identity])
	}

	return MergeResult{
		Profiles:        out,
		RemoteAvailable: true,
		Matched:         matched,
		Appended:        appended,
	}
}

// LocalOnly wraps the cached profiles as a merge result when the relay is
// unreachable. Sorted by slot key, same as the merged path walks them.
func (r *Reconciler) LocalOnly(local map[string]Profile) MergeResult {
	slotKeys := make([]string, 0, len(local))
	for key := range local {
		slotKeys = append(slotKeys, key)
	}
	sort.Strings(slotKeys)

	out := make([]Profile, 0, len(slotKeys))
	for _, key := range slotKeys {
		out = append(out, local[key])
	}
	return MergeResult{Profiles: out, RemoteAvailable: false}
}

// findRemote locates the remote copy of a local profile. External ID links
// win; fingerprint matching is the fallback and picks the freshest row when
// several rows carry the same identity.
func (r *Reconciler) findRemote(lp Profile, byID map[string]int, byFP map[string][]int, remote []relay.RemoteProfile) (int, bool) {
	if lp.ExternalID != "" {
		if idx, ok := byID[lp.ExternalID]; ok {
			return idx, true
		}
	}
	candidates := byFP[lp.Fingerprint()]
	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0]
	for _, idx := range candidates[1:] {
		if remote[idx].UpdatedAt.After(remote[best].UpdatedAt) {
			best = idx
		}
	}
	return best, true
}

// applyRemote copies the display fields from the remote row onto a local
// profile. Everything gameplay-relevant stays local.
func applyRemote(lp Profile, rp relay.RemoteProfile) Profile {
	out := lp
	out.HasRemoteCopy = true
	if out.ExternalID == "" {
		out.ExternalID = rp.ID
	}
	if rp.Color != "" {
		out.Sheet.Color = rp.Color
	}
	if rp.AvatarURL != "" {
		out.Sheet.AvatarURL = rp.AvatarURL
	}
	return out
}

// remoteEntry converts an unclaimed remote row into a selectable profile.
func remoteEntry(rp relay.RemoteProfile) Profile {
	var sheet Sheet
	if len(rp.Sheet) > 0 {
		if err := json.Unmarshal(rp.Sheet, &sheet); err != nil {
			log.Printf("⚠️ [MERGE] Unreadable sheet payload on remote profile %s: %v", rp.ID, err)
		}
	}
	if sheet.Name == "" {
		sheet.Name = rp.Name
	}
	if sheet.Class == "" {
		sheet.Class = rp.Class
	}
	if sheet.Level == 0 {
		sheet.Level = rp.Level
	}
	if rp.Color != "" {
		sheet.Color = rp.Color
	}
	if rp.AvatarURL != "" {
		sheet.AvatarURL = rp.AvatarURL
	}

	return Profile{
		SlotKey:       "remote-" + shortID(rp.ID),
		ExternalID:    rp.ID,
		Source:        SourceRemote,
		HasRemoteCopy: true,
		Sheet:         sheet,
		LastUpdated:   rp.UpdatedAt,
	}
}

// outranks decides slot precedence when two locals are the same character.
func outranks(candidate, incumbent Profile) bool {
	cm, im := IsManualSlot(candidate.SlotKey), IsManualSlot(incumbent.SlotKey)
	if cm != im {
		return cm
	}
	return false
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
