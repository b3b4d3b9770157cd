package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// DefaultServerURL is used when SHERPA_SERVER_URL is unset.
const DefaultServerURL = "ws://127.0.0.1:8419"

// ServerURL resolves the control-plane endpoint from the environment.
func ServerURL() string {
	if u := os.Getenv("SHERPA_SERVER_URL"); u != "" {
		return u
	}
	return DefaultServerURL
}

// tokenPath is where the session token lives: ~/.sherpa/token.
func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".sherpa", "token"), nil
}

// SaveToken persists the session token with owner-only permissions.
func SaveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

// LoadToken reads the cached session token. A missing file is not an
// error; it just means the user has to log in.
func LoadToken() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearToken forgets the cached session.
func ClearToken() error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RequireToken loads the cached token and fails when there is none.
func RequireToken() (string, error) {
	token, err := LoadToken()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("not logged in, run \"sherpactl login\": %w", util.ErrPermissionDenied)
	}
	return token, nil
}
