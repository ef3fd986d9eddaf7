package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "parley"

// getDefaultDir picks the per-user log location for the platform: Library/Logs
// on macOS, LOCALAPPDATA on Windows, XDG_STATE_HOME elsewhere.
func getDefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appName), nil
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, appName, "logs"), nil
	}
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, appName, "logs"), nil
}
