package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire protocol for the realtime channel. Envelopes are JSON with an event
// kind, a topic, a correlation ref and an event-specific payload.
const (
	EventSubscribe    = "subscribe"
	EventHeartbeat    = "heartbeat"
	EventSubscribeAck = "subscribe_ack"
	EventSystem       = "system"
	EventChange       = "change"
	EventHeartbeatAck = "heartbeat_ack"
	EventError        = "error"
)

// Envelope represents one realtime message
type Envelope struct {
	Event   string                 `json:"event"`
	Topic   string                 `json:"topic,omitempty"`
	Ref     string                 `json:"ref,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// subscribeEnvelope builds the join message for a pairing's command feed.
func subscribeEnvelope(pairingID, ref string) Envelope {
	return Envelope{
		Event: EventSubscribe,
		Topic: "pairing:" + pairingID,
		Ref:   ref,
		Payload: map[string]interface{}{
			"table":  "commands",
			"filter": "pairing_id=eq." + pairingID,
		},
	}
}

// heartbeatEnvelope builds an application-level heartbeat with a fresh
// correlation ref.
func heartbeatEnvelope(ref string) Envelope {
	return Envelope{
		Event: EventHeartbeat,
		Topic: "relay",
		Ref:   ref,
	}
}

// messageHandlers routes inbound envelopes by event kind. Unknown kinds fall
// through to a log line in handleMessage; nothing in this table may take
// down the read loop.
var messageHandlers = map[string]func(*Supervisor, Envelope){
	EventSubscribeAck: (*Supervisor).handleSubscribeAck,
	EventSystem:       (*Supervisor).handleSystem,
	EventChange:       (*Supervisor).handleChange,
	EventHeartbeatAck: (*Supervisor).handleHeartbeatAck,
	EventError:        (*Supervisor).handleErrorEvent,
}

// decodeChange extracts the operation and command row from a change payload.
func decodeChange(payload map[string]interface{}) (string, CommandRecord, error) {
	op, _ := payload["op"].(string)
	record, ok := payload["record"].(map[string]interface{})
	if !ok {
		return op, CommandRecord{}, errors.New("change event without record")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return op, CommandRecord{}, fmt.Errorf("re-encode record: %w", err)
	}
	var rec CommandRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return op, CommandRecord{}, fmt.Errorf("malformed command record: %w", err)
	}
	return op, rec, nil
}
