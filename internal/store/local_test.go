package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sheetlink/companion/internal/profile"
)

func openTestStore(t *testing.T) *Local {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestPutGetDelete verifies the raw key-value roundtrip
func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing key, got %v", err)
	}

	if err := s.Put("greeting", []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Expected hello, got %s", got)
	}

	if err := s.Put("greeting", []byte("hi")); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}
	got, _ = s.Get("greeting")
	if string(got) != "hi" {
		t.Errorf("Expected overwritten value hi, got %s", got)
	}

	if err := s.Delete("greeting"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("greeting"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is fine
	if err := s.Delete("greeting"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}
}

// TestProfiles_EmptyDefault verifies a fresh cache yields an empty map
func TestProfiles_EmptyDefault(t *testing.T) {
	s := openTestStore(t)

	profiles, err := s.Profiles()
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("Expected empty profile map, got %d entries", len(profiles))
	}
}

// TestSaveProfile verifies upserting stamps LastUpdated and defaults the
// source to local
func TestSaveProfile(t *testing.T) {
	s := openTestStore(t)

	p := profile.Profile{
		SlotKey: "slot-1",
		Sheet:   profile.Sheet{Name: "Aria", Class: "Wizard", Level: 3, HP: 18, MaxHP: 24},
	}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	profiles, err := s.Profiles()
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	stored, ok := profiles["slot-1"]
	if !ok {
		t.Fatal("Expected slot-1 in profile map")
	}
	if stored.Sheet.Name != "Aria" {
		t.Errorf("Expected name Aria, got %s", stored.Sheet.Name)
	}
	if stored.Source != profile.SourceLocal {
		t.Errorf("Expected source to default to local, got %q", stored.Source)
	}
	if stored.LastUpdated.IsZero() {
		t.Error("Expected LastUpdated to be stamped")
	}

	remote := profile.Profile{
		SlotKey: "remote-1",
		Source:  profile.SourceRemote,
		Sheet:   profile.Sheet{Name: "Vex"},
	}
	if err := s.SaveProfile(remote); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}
	profiles, _ = s.Profiles()
	if profiles["remote-1"].Source != profile.SourceRemote {
		t.Errorf("Expected explicit source to be kept, got %q", profiles["remote-1"].Source)
	}
}

// TestResolveCharacter_ActiveProfile verifies an empty name resolves the active slot
func TestResolveCharacter_ActiveProfile(t *testing.T) {
	s := openTestStore(t)

	if _, _, err := s.ResolveCharacter(""); !errors.Is(err, ErrNoCharacter) {
		t.Errorf("Expected ErrNoCharacter with no active profile, got %v", err)
	}

	s.SaveProfile(profile.Profile{SlotKey: "slot-1", Sheet: profile.Sheet{Name: "Aria", HP: 18}})
	if err := s.SetActiveProfileKey("slot-1"); err != nil {
		t.Fatalf("SetActiveProfileKey failed: %v", err)
	}

	slot, sheet, err := s.ResolveCharacter("")
	if err != nil {
		t.Fatalf("ResolveCharacter failed: %v", err)
	}
	if slot != "slot-1" {
		t.Errorf("Expected slot-1, got %s", slot)
	}
	if sheet.Name != "Aria" {
		t.Errorf("Expected sheet Aria, got %s", sheet.Name)
	}

	// Active slot pointing at a removed profile is an error, not a panic
	s.SetActiveProfileKey("gone")
	if _, _, err := s.ResolveCharacter(""); !errors.Is(err, ErrNoCharacter) {
		t.Errorf("Expected ErrNoCharacter for dangling active slot, got %v", err)
	}
}

// TestResolveCharacter_ByName verifies case-insensitive name matching with
// manual slots winning over auto slots
func TestResolveCharacter_ByName(t *testing.T) {
	s := openTestStore(t)

	s.SaveProfile(profile.Profile{SlotKey: "auto-11a2", Sheet: profile.Sheet{Name: "Brom", HP: 40}})
	s.SaveProfile(profile.Profile{SlotKey: "campaign", Sheet: profile.Sheet{Name: "brom", HP: 44}})

	slot, sheet, err := s.ResolveCharacter("  BROM ")
	if err != nil {
		t.Fatalf("ResolveCharacter failed: %v", err)
	}
	if slot != "campaign" {
		t.Errorf("Expected manual slot campaign, got %s", slot)
	}
	if sheet.HP != 44 {
		t.Errorf("Expected manual slot's sheet, got HP %d", sheet.HP)
	}

	if _, _, err := s.ResolveCharacter("Vex"); !errors.Is(err, ErrNoCharacter) {
		t.Errorf("Expected ErrNoCharacter for unknown name, got %v", err)
	}
}

// TestSaveSheet verifies sheet mutations persist back into the slot
func TestSaveSheet(t *testing.T) {
	s := openTestStore(t)

	s.SaveProfile(profile.Profile{SlotKey: "slot-1", Sheet: profile.Sheet{Name: "Aria", HP: 18, MaxHP: 24}})

	_, sheet, err := s.ResolveCharacter("aria")
	if err != nil {
		t.Fatalf("ResolveCharacter failed: %v", err)
	}
	sheet.HP = 7
	if err := s.SaveSheet("slot-1", sheet); err != nil {
		t.Fatalf("SaveSheet failed: %v", err)
	}

	profiles, _ := s.Profiles()
	if profiles["slot-1"].Sheet.HP != 7 {
		t.Errorf("Expected HP 7 after save, got %d", profiles["slot-1"].Sheet.HP)
	}

	if err := s.SaveSheet("nope", sheet); !errors.Is(err, ErrNoCharacter) {
		t.Errorf("Expected ErrNoCharacter for unknown slot, got %v", err)
	}
}

// TestPairingID verifies set, read and clear of the adopted pairing
func TestPairingID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.PairingID()
	if err != nil {
		t.Fatalf("PairingID failed: %v", err)
	}
	if id != "" {
		t.Errorf("Expected empty pairing id on fresh cache, got %q", id)
	}

	if err := s.SetPairingID("p-1234"); err != nil {
		t.Fatalf("SetPairingID failed: %v", err)
	}
	id, _ = s.PairingID()
	if id != "p-1234" {
		t.Errorf("Expected p-1234, got %q", id)
	}

	if err := s.SetPairingID(""); err != nil {
		t.Fatalf("Clearing pairing id failed: %v", err)
	}
	id, _ = s.PairingID()
	if id != "" {
		t.Errorf("Expected cleared pairing id, got %q", id)
	}
}

// TestReopen verifies values survive a close and reopen
func TestReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	s.SaveProfile(profile.Profile{SlotKey: "slot-1", Sheet: profile.Sheet{Name: "Aria"}})
	s.SetActiveProfileKey("slot-1")
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	key, err := s.ActiveProfileKey()
	if err != nil {
		t.Fatalf("ActiveProfileKey failed: %v", err)
	}
	if key != "slot-1" {
		t.Errorf("Expected active slot-1 after reopen, got %q", key)
	}
	profiles, _ := s.Profiles()
	if len(profiles) != 1 {
		t.Errorf("Expected 1 profile after reopen, got %d", len(profiles))
	}
}
