package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (SHEETLINK_ENV=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("SHEETLINK_ENV"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithPairing returns a logger with the pairing context attached.
// Use this for all logging tied to one realtime subscription.
func WithPairing(pairingID string) *slog.Logger {
	return slog.With("pairing_id", pairingID)
}

// WithCommand returns a logger scoped to a single command execution.
func WithCommand(logger *slog.Logger, commandID, commandType string) *slog.Logger {
	return logger.With(
		"command_id", commandID,
		"command_type", commandType,
	)
}
