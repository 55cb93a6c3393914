package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// hubClient talks to the running daemon's observer surface on loopback.
var hubClient = &http.Client{Timeout: 10 * time.Second}

// hubGet fetches a JSON document from the daemon.
func hubGet(addr, path string, out interface{}) error {
	resp, err := hubClient.Get("http://" + addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeHubResponse(resp, out)
}

// hubPost posts to the daemon and decodes the JSON answer.
func hubPost(addr, path string, out interface{}) error {
	resp, err := hubClient.Post("http://"+addr+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeHubResponse(resp, out)
}

func decodeHubResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon answered %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
