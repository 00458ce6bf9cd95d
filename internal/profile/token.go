package profile

import (
	"os"
	"strings"
)

// ReadToken loads the persisted session token for a profile. Returns ""
// when no token is stored.
func ReadToken(name string) string {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteToken persists the session token for a profile.
func WriteToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// ClearToken removes the persisted token. Missing file is not an error.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
