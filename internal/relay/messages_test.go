package relay

import (
	"testing"
	"time"
)

// TestSubscribeEnvelope verifies the join message targets the pairing's command feed
func TestSubscribeEnvelope(t *testing.T) {
	env := subscribeEnvelope("p1", "ref-1")

	if env.Event != EventSubscribe {
		t.Errorf("Expected event subscribe, got %s", env.Event)
	}
	if env.Topic != "pairing:p1" {
		t.Errorf("Expected topic pairing:p1, got %s", env.Topic)
	}
	if env.Ref != "ref-1" {
		t.Errorf("Expected ref ref-1, got %s", env.Ref)
	}
	if env.Payload["table"] != "commands" {
		t.Errorf("Expected table commands, got %v", env.Payload["table"])
	}
	if env.Payload["filter"] != "pairing_id=eq.p1" {
		t.Errorf("Expected filter pairing_id=eq.p1, got %v", env.Payload["filter"])
	}
}

// TestHeartbeatEnvelope verifies heartbeats carry a fresh ref on the relay topic
func TestHeartbeatEnvelope(t *testing.T) {
	env := heartbeatEnvelope("ref-2")

	if env.Event != EventHeartbeat {
		t.Errorf("Expected event heartbeat, got %s", env.Event)
	}
	if env.Topic != "relay" {
		t.Errorf("Expected topic relay, got %s", env.Topic)
	}
	if env.Ref != "ref-2" {
		t.Errorf("Expected ref ref-2, got %s", env.Ref)
	}
}

// TestDecodeChange verifies a change payload unpacks into a command record
func TestDecodeChange(t *testing.T) {
	created := time.Now().UTC().Truncate(time.Second)
	payload := map[string]interface{}{
		"op": "insert",
		"record": map[string]interface{}{
			"id":           "cmd-1",
			"pairing_id":   "p1",
			"command_type": "roll",
			"command_data": map[string]interface{}{"formula": "2d6"},
			"status":       "pending",
			"created_at":   created.Format(time.RFC3339),
		},
	}

	op, rec, err := decodeChange(payload)
	if err != nil {
		t.Fatalf("decodeChange failed: %v", err)
	}
	if op != "insert" {
		t.Errorf("Expected op insert, got %s", op)
	}
	if rec.ID != "cmd-1" || rec.PairingID != "p1" {
		t.Errorf("Expected cmd-1/p1, got %s/%s", rec.ID, rec.PairingID)
	}
	if rec.Type != CommandRoll {
		t.Errorf("Expected type roll, got %s", rec.Type)
	}
	if rec.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", rec.Status)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("Expected created at %v, got %v", created, rec.CreatedAt)
	}
}

// TestDecodeChange_NoRecord verifies a payload without a record is an error
func TestDecodeChange_NoRecord(t *testing.T) {
	if _, _, err := decodeChange(map[string]interface{}{"op": "insert"}); err == nil {
		t.Error("Expected error for change event without record")
	}
}

// TestMessageHandlers verifies every inbound event kind has a route
func TestMessageHandlers(t *testing.T) {
	for _, event := range []string{EventSubscribeAck, EventSystem, EventChange, EventHeartbeatAck, EventError} {
		if _, ok := messageHandlers[event]; !ok {
			t.Errorf("Expected handler for event %s", event)
		}
	}
}
