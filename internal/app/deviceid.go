package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// loadDeviceID returns the per-install identifier, minting and
// persisting one on first run. With no path configured the identifier
// is ephemeral.
func loadDeviceID(path string, logger *slog.Logger) string {
	if path == "" {
		return uuid.NewString()
	}

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
		logger.Warn("device id file is not a uuid, reissuing", "path", path)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		logger.Warn("device id dir", "error", err)
		return id
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		logger.Warn("device id persist", "error", err)
	}
	return id
}
