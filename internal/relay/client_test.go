package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestClient_PendingCommands verifies the backlog query shape and row order
func TestClient_PendingCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/commands" {
			t.Errorf("Expected path /rest/v1/commands, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("pairing_id") != "eq.p1" {
			t.Errorf("Expected pairing_id=eq.p1, got %s", q.Get("pairing_id"))
		}
		if q.Get("status") != "eq.pending" {
			t.Errorf("Expected status=eq.pending, got %s", q.Get("status"))
		}
		if q.Get("order") != "created_at.asc" {
			t.Errorf("Expected order=created_at.asc, got %s", q.Get("order"))
		}
		if q.Get("limit") != "200" {
			t.Errorf("Expected limit=200, got %s", q.Get("limit"))
		}
		if r.Header.Get("apikey") != "test-key" {
			t.Errorf("Expected apikey header, got %s", r.Header.Get("apikey"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "cmd-1", "pairing_id": "p1", "command_type": "roll", "status": "pending", "created_at": "2026-08-01T10:00:00Z"},
			{"id": "cmd-2", "pairing_id": "p1", "command_type": "heal", "status": "pending", "created_at": "2026-08-01T10:00:05Z"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	rows, err := client.PendingCommands(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PendingCommands failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "cmd-1" || rows[1].ID != "cmd-2" {
		t.Errorf("Expected cmd-1 then cmd-2, got %s then %s", rows[0].ID, rows[1].ID)
	}
	if !rows[0].CreatedAt.Before(rows[1].CreatedAt) {
		t.Error("Expected rows oldest first")
	}
}

// TestClient_ClaimCommand verifies the conditional write and a won claim
func TestClient_ClaimCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("id") != "eq.cmd-1" {
			t.Errorf("Expected id=eq.cmd-1, got %s", q.Get("id"))
		}
		if q.Get("status") != "eq.pending" {
			t.Errorf("Expected status=eq.pending filter, got %s", q.Get("status"))
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Expected Prefer return=representation, got %s", r.Header.Get("Prefer"))
		}

		var body map[string]interface{}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if body["status"] != "processing" {
			t.Errorf("Expected status processing in body, got %v", body["status"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "cmd-1", "pairing_id": "p1", "command_type": "roll", "status": "processing", "created_at": "2026-08-01T10:00:00Z"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	claimed, err := client.ClaimCommand(context.Background(), "cmd-1")
	if err != nil {
		t.Fatalf("ClaimCommand failed: %v", err)
	}
	if !claimed {
		t.Error("Expected claim to succeed")
	}
}

// TestClient_ClaimCommand_AlreadyClaimed verifies a lost race is not an error
func TestClient_ClaimCommand_AlreadyClaimed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	claimed, err := client.ClaimCommand(context.Background(), "cmd-1")
	if err != nil {
		t.Fatalf("Expected no error on lost claim, got %v", err)
	}
	if claimed {
		t.Error("Expected claim to report false when no row matched")
	}
}

// TestClient_CompleteCommand verifies the terminal write carries the result
func TestClient_CompleteCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)

		if body["status"] != "completed" {
			t.Errorf("Expected status completed, got %v", body["status"])
		}
		if body["result"] == nil {
			t.Error("Expected result in body")
		}
		if body["processed_at"] == nil {
			t.Error("Expected processed_at in body")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.CompleteCommand(context.Background(), "cmd-1", json.RawMessage(`{"total": 11}`))
	if err != nil {
		t.Fatalf("CompleteCommand failed: %v", err)
	}
}

// TestClient_FailCommand verifies the failed write carries the message
func TestClient_FailCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)

		if body["status"] != "failed" {
			t.Errorf("Expected status failed, got %v", body["status"])
		}
		msg, _ := body["error_message"].(string)
		if msg == "" {
			t.Error("Expected non-empty error_message")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if err := client.FailCommand(context.Background(), "cmd-1", "no spell slots remaining"); err != nil {
		t.Fatalf("FailCommand failed: %v", err)
	}
}

// TestClient_ServerError verifies 5xx responses map to ErrRelayUnavailable
func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.PendingCommands(context.Background(), "p1"); !errors.Is(err, ErrRelayUnavailable) {
		t.Errorf("Expected ErrRelayUnavailable, got %v", err)
	}
}

// TestClient_Unreachable verifies transport failures map to ErrRelayUnavailable
func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, "test-key")
	if _, err := client.PendingCommands(context.Background(), "p1"); !errors.Is(err, ErrRelayUnavailable) {
		t.Errorf("Expected ErrRelayUnavailable, got %v", err)
	}
}

// TestClient_ClientError verifies 4xx responses stay ordinary errors
func TestClient_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such table", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.PendingCommands(context.Background(), "p1")
	if err == nil {
		t.Fatal("Expected error for 404")
	}
	if errors.Is(err, ErrRelayUnavailable) {
		t.Error("Expected 4xx to not count as relay unavailable")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

// TestClient_BearerToken verifies the access token rides along once set
func TestClient_BearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("Expected bearer token, got %s", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	client.SetAccessToken("tok-123")
	if _, err := client.PendingCommands(context.Background(), "p1"); err != nil {
		t.Fatalf("PendingCommands failed: %v", err)
	}
}

// TestClient_Profiles verifies the profile query asks for freshest first
func TestClient_Profiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/character_profiles" {
			t.Errorf("Expected path /rest/v1/character_profiles, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("order") != "updated_at.desc" {
			t.Errorf("Expected order=updated_at.desc, got %s", r.URL.Query().Get("order"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "r1", "pairing_id": "p1", "name": "Aria", "class": "Wizard", "level": 3, "updated_at": "2026-08-01T10:00:00Z"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	rows, err := client.Profiles(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "Aria" {
		t.Errorf("Expected one Aria row, got %+v", rows)
	}
}

// TestClient_UpsertProfile verifies the merge-on-conflict push
func TestClient_UpsertProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Prefer") != "resolution=merge-duplicates" {
			t.Errorf("Expected Prefer resolution=merge-duplicates, got %s", r.Header.Get("Prefer"))
		}
		var row RemoteProfile
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &row)
		if row.PairingID != "p1" || row.Name != "Aria" {
			t.Errorf("Expected p1/Aria, got %s/%s", row.PairingID, row.Name)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.UpsertProfile(context.Background(), RemoteProfile{PairingID: "p1", Name: "Aria", Class: "Wizard", Level: 3})
	if err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
}

// TestClient_ExchangePairingCode verifies the code-for-grant exchange
func TestClient_ExchangePairingCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			t.Errorf("Expected path /auth/v1/token, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("grant_type") != "pairing_code" {
			t.Errorf("Expected grant_type=pairing_code, got %s", r.URL.Query().Get("grant_type"))
		}
		var body map[string]string
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if body["code"] != "ABCD-1234" {
			t.Errorf("Expected code ABCD-1234, got %s", body["code"])
		}
		if body["client_id"] == "" {
			t.Error("Expected client_id in body")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairing_id": "p1", "access_token": "tok", "refresh_token": "ref", "expires_in": 3600}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	grant, err := client.ExchangePairingCode("ABCD-1234", "companion-1")
	if err != nil {
		t.Fatalf("ExchangePairingCode failed: %v", err)
	}
	if grant.PairingID != "p1" || grant.AccessToken != "tok" {
		t.Errorf("Expected p1/tok, got %s/%s", grant.PairingID, grant.AccessToken)
	}
	if grant.ExpiresIn != 3600 {
		t.Errorf("Expected expires_in 3600, got %d", grant.ExpiresIn)
	}
}

// TestClient_ExchangePairingCode_Rejected verifies rejected and incomplete grants error
func TestClient_ExchangePairingCode_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "code expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.ExchangePairingCode("STALE", "companion-1"); err == nil {
		t.Error("Expected error for rejected code")
	}
	if _, err := client.ExchangePairingCode("", "companion-1"); err == nil {
		t.Error("Expected error for empty code")
	}

	incomplete := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairing_id": ""}`))
	}))
	defer incomplete.Close()

	client = NewClient(incomplete.URL, "test-key")
	if _, err := client.ExchangePairingCode("ABCD-1234", "companion-1"); err == nil {
		t.Error("Expected error for incomplete grant")
	}
}

// TestClient_RefreshAccessToken verifies the refresh exchange and its failures
func TestClient_RefreshAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("Expected grant_type=refresh_token, got %s", r.URL.Query().Get("grant_type"))
		}
		var body map[string]string
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if body["refresh_token"] != "ref-1" {
			t.Errorf("Expected refresh_token ref-1, got %s", body["refresh_token"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "tok-2", "refresh_token": "ref-2", "expires_in": 3600, "token_type": "bearer"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	resp, err := client.RefreshAccessToken("ref-1")
	if err != nil {
		t.Fatalf("RefreshAccessToken failed: %v", err)
	}
	if resp.AccessToken != "tok-2" || resp.RefreshToken != "ref-2" {
		t.Errorf("Expected tok-2/ref-2, got %s/%s", resp.AccessToken, resp.RefreshToken)
	}

	if _, err := client.RefreshAccessToken(""); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Expected ErrRefreshFailed for empty token, got %v", err)
	}
}

// TestClient_RefreshAccessToken_Rejected verifies a rejected refresh maps to ErrRefreshFailed
func TestClient_RefreshAccessToken_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "refresh token revoked", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.RefreshAccessToken("revoked"); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Expected ErrRefreshFailed, got %v", err)
	}
}
