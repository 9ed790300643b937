package simplefin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// AuthState is the saved result of claiming a SimpleFIN setup token. The
// access URL embeds its credentials, so the file is written owner-only.
type AuthState struct {
	AccessURL  string    `json:"access_url"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ClaimToken string    `json:"claim_token_hint"`
}

// LoadOrClaimAuth returns the saved access URL, claiming the setup token
// first if no usable state exists. Setup tokens are single-use; once claimed,
// only the saved access URL works.
func LoadOrClaimAuth(token string) (*AuthState, error) {
	stateFile, err := stateFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve auth state path: %w", err)
	}

	auth, err := loadAuthState(stateFile)
	if err == nil && auth.AccessURL != "" {
		slog.Debug("Using saved SimpleFIN access URL",
			"claimed_at", auth.ClaimedAt.Format("2006-01-02"),
			"state_file", stateFile)
		return auth, nil
	}

	if token == "" {
		return nil, fmt.Errorf("no saved SimpleFIN access and no setup token provided")
	}

	slog.Info("No saved SimpleFIN auth found, claiming setup token")
	accessURL, err := claimToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to claim token: %w", err)
	}

	newAuth := &AuthState{
		AccessURL:  accessURL,
		ClaimedAt:  time.Now(),
		ClaimToken: tokenHint(token),
	}

	if err := saveAuthState(stateFile, newAuth); err != nil {
		return nil, fmt.Errorf("failed to save auth state: %w", err)
	}

	slog.Info("Claimed and saved SimpleFIN access URL", "state_file", stateFile)

	return newAuth, nil
}

func stateFilePath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}

	appDir := filepath.Join(configDir, "subtrack")
	if err := os.MkdirAll(appDir, 0700); err != nil {
		return "", err
	}

	return filepath.Join(appDir, "simplefin-auth.json"), nil
}

func loadAuthState(path string) (*AuthState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var auth AuthState
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}

	return &auth, nil
}

func saveAuthState(path string, auth *AuthState) error {
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// tokenHint keeps enough of the token to recognize it later without storing
// the whole thing.
func tokenHint(token string) string {
	if len(token) > 16 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return "short_token"
}
