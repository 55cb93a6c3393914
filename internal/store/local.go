// Package store is the companion's local cache: a small sqlite key-value
// store holding the profile map, the active profile key and the adopted
// pairing id. It stands in for the sheet application's own storage, which
// the companion cannot reach directly.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sheetlink/companion/internal/profile"
)

// Well-known cache keys.
const (
	KeyProfiles      = "profiles"
	KeyActiveProfile = "active_profile"
	KeyPairingID     = "pairing_id"
)

// ErrNotFound is returned when a cache key has no value.
var ErrNotFound = errors.New("store: key not found")

// ErrNoCharacter is returned when a command cannot be matched to a profile.
var ErrNoCharacter = errors.New("store: no matching character")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Local is the sqlite-backed cache. With a cipher attached, values are
// encrypted at rest; without one they are stored as plain JSON.
type Local struct {
	db     *sql.DB
	cipher *Cipher
	mu     sync.Mutex
}

// Open opens (or creates) the cache database at path.
func Open(path string, cipher *Cipher) (*Local, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Local{db: db, cipher: cipher}, nil
}

// Close closes the underlying database.
func (s *Local) Close() error {
	return s.db.Close()
}

// Ping verifies the cache is reachable.
func (s *Local) Ping() error {
	return s.db.Ping()
}

// Get returns the value stored under key, decrypted if a cipher is set.
func (s *Local) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	if s.cipher != nil {
		plain, err := s.cipher.Decrypt(key, value)
		if err != nil {
			return nil, fmt.Errorf("store: decrypt %s: %w", key, err)
		}
		return plain, nil
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Local) Put(key string, value []byte) error {
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(key, value)
		if err != nil {
			return fmt.Errorf("store: encrypt %s: %w", key, err)
		}
		value = sealed
	}
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Local) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Profiles returns the cached profile map, empty when nothing is stored yet.
func (s *Local) Profiles() (map[string]profile.Profile, error) {
	raw, err := s.Get(KeyProfiles)
	if errors.Is(err, ErrNotFound) {
		return map[string]profile.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]profile.Profile
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: profiles payload: %w", err)
	}
	if out == nil {
		out = map[string]profile.Profile{}
	}
	return out, nil
}

// SaveProfiles replaces the whole profile map.
func (s *Local) SaveProfiles(profiles map[string]profile.Profile) error {
	raw, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("store: encode profiles: %w", err)
	}
	return s.Put(KeyProfiles, raw)
}

// SaveProfile upserts a single profile into the map, stamping LastUpdated.
// Profiles written without a source are the sheet app's own, so they default
// to local.
func (s *Local) SaveProfile(p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.Profiles()
	if err != nil {
		return err
	}
	if p.Source == "" {
		p.Source = profile.SourceLocal
	}
	p.LastUpdated = time.Now().UTC()
	profiles[p.SlotKey] = p
	return s.SaveProfiles(profiles)
}

// ResolveCharacter finds the profile a command addresses. An empty name
// falls back to the active profile; otherwise the name is matched
// case-insensitively against sheet names, manual slots winning over
// auto-provisioned ones. The returned sheet is the caller's to mutate and
// write back with SaveSheet.
func (s *Local) ResolveCharacter(name string) (string, *profile.Sheet, error) {
	profiles, err := s.Profiles()
	if err != nil {
		return "", nil, err
	}

	if strings.TrimSpace(name) == "" {
		key, err := s.ActiveProfileKey()
		if err != nil {
			return "", nil, err
		}
		if key == "" {
			return "", nil, fmt.Errorf("%w: no active profile set", ErrNoCharacter)
		}
		p, ok := profiles[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: active slot %s no longer exists", ErrNoCharacter, key)
		}
		return key, &p.Sheet, nil
	}

	want := strings.ToLower(strings.TrimSpace(name))
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	match := ""
	for _, k := range keys {
		if strings.ToLower(strings.TrimSpace(profiles[k].Sheet.Name)) != want {
			continue
		}
		if match == "" || (profile.IsManualSlot(k) && !profile.IsManualSlot(match)) {
			match = k
		}
	}
	if match == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrNoCharacter, name)
	}
	p := profiles[match]
	return match, &p.Sheet, nil
}

// SaveSheet writes a mutated sheet back to its slot.
func (s *Local) SaveSheet(slotKey string, sheet *profile.Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.Profiles()
	if err != nil {
		return err
	}
	p, ok := profiles[slotKey]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNoCharacter, slotKey)
	}
	p.Sheet = *sheet
	p.LastUpdated = time.Now().UTC()
	profiles[slotKey] = p
	return s.SaveProfiles(profiles)
}

// ActiveProfileKey returns the slot key commands without an explicit
// character target resolve to. Empty when none is set.
func (s *Local) ActiveProfileKey() (string, error) {
	raw, err := s.Get(KeyActiveProfile)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetActiveProfileKey records the active slot.
func (s *Local) SetActiveProfileKey(slotKey string) error {
	return s.Put(KeyActiveProfile, []byte(slotKey))
}

// PairingID returns the adopted pairing id, empty when unpaired.
func (s *Local) PairingID() (string, error) {
	raw, err := s.Get(KeyPairingID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetPairingID records the adopted pairing id. An empty id clears it.
func (s *Local) SetPairingID(id string) error {
	if id == "" {
		return s.Delete(KeyPairingID)
	}
	return s.Put(KeyPairingID, []byte(id))
}
