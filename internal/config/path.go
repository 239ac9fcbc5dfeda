// Package config loads and validates the application configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and $VAR references in a file path.
func ExpandPath(path string) string {
	switch {
	case path == "":
		return path
	case path == "~", strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}

// databasePath expands a configured database location. SQLite in-memory
// names and file: URIs are passed through untouched.
func databasePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == ":memory:" || strings.HasPrefix(raw, "file:") {
		return raw
	}
	return ExpandPath(raw)
}
