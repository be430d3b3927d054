package homeutils

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeDir returns the home directory of the user veilart runs as, or an
// empty string when it cannot be determined.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// ExpandHome replaces a leading "~/" in path with the home directory.
// Other paths are returned unchanged.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home := HomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, rest)
}
