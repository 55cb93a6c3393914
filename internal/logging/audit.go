package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Audit is the command execution trail. Every command the dispatcher
// finishes lands here as one JSON line, whatever the outcome, so a session
// can be reconstructed after the fact.
type Audit struct {
	log  *logrus.Logger
	file *os.File
}

// NewAudit opens (or creates) the audit log under dir.
func NewAudit(dir string) (*Audit, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, "commands.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := logrus.New()
	l.SetOutput(file)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	l.SetLevel(logrus.InfoLevel)

	return &Audit{log: l, file: file}, nil
}

// Command records one finished command execution.
func (a *Audit) Command(commandID, commandType, pairingID, status, errorMessage string, duration time.Duration) {
	if a == nil {
		return
	}
	entry := a.log.WithFields(logrus.Fields{
		"command_id":   commandID,
		"command_type": commandType,
		"pairing_id":   pairingID,
		"status":       status,
		"duration_ms":  duration.Milliseconds(),
	})
	if errorMessage != "" {
		entry.WithField("error", errorMessage).Warn("command failed")
		return
	}
	entry.Info("command executed")
}

// Close closes the underlying file.
func (a *Audit) Close() error {
	if a == nil {
		return nil
	}
	return a.file.Close()
}
