package relay

import (
	"encoding/json"
	"time"
)

// Command type values as they appear on the wire. The chat integration
// produces camelCase identifiers, so the constants mirror that spelling.
const (
	CommandRoll       = "roll"
	CommandCast       = "cast"
	CommandHeal       = "heal"
	CommandTakeDamage = "takeDamage"
	CommandRest       = "rest"
	CommandUseAction  = "useAction"
	CommandEndTurn    = "endTurn"
)

// CommandRecord is one row of the relay's commands table. Rows are inserted by
// the chat integration; the companion only ever writes status bookkeeping and
// results back.
type CommandRecord struct {
	ID           string          `json:"id"`
	PairingID    string          `json:"pairing_id"`
	Type         string          `json:"command_type"`
	Data         json.RawMessage `json:"command_data,omitempty"`
	Status       CommandStatus   `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// RemoteProfile is one row of the relay's character_profiles table. Name,
// class and level are real columns so the chat side can render pickers
// without unpacking the sheet payload.
type RemoteProfile struct {
	ID        string          `json:"id,omitempty"`
	PairingID string          `json:"pairing_id"`
	Name      string          `json:"name"`
	Class     string          `json:"class"`
	Level     int             `json:"level"`
	Color     string          `json:"color,omitempty"`
	AvatarURL string          `json:"avatar_url,omitempty"`
	Sheet     json.RawMessage `json:"sheet,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ConnState describes where the realtime subscription currently is in its
// lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReady        ConnState = "ready"
)

// PairingSession is the supervisor's view of the active pairing. It is the
// only connection state anyone else gets to see; a copy is returned so
// callers never observe a half-updated session.
type PairingSession struct {
	PairingID       string    `json:"pairing_id"`
	State           ConnState `json:"state"`
	ConnectedAt     time.Time `json:"connected_at,omitzero"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at,omitzero"`
	Reconnects      int       `json:"reconnects"`
}
