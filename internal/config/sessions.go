package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrNoSession is returned when no session file exists for an identity.
var ErrNoSession = errors.New("no saved session (login required)")

// SessionFile is the on-disk form of one identity's session.
type SessionFile struct {
	UserID     string    `json:"user_id"`
	Homeserver string    `json:"homeserver"`
	SessionID  string    `json:"session_id"`
	SavedAt    time.Time `json:"saved_at"`
}

func sessionPath(dir, userID string) string {
	return filepath.Join(dir, "sessions", userID+".json")
}

// SaveSession writes s under dir, readable by the owner only.
func SaveSession(dir string, s SessionFile) error {
	p := sessionPath(dir, s.UserID)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}

// LoadSession reads the session of userID from dir.
func LoadSession(dir, userID string) (SessionFile, error) {
	var s SessionFile
	b, err := os.ReadFile(sessionPath(dir, userID))
	if errors.Is(err, os.ErrNotExist) {
		return s, ErrNoSession
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	if s.SessionID == "" || s.Homeserver == "" {
		return s, ErrNoSession
	}
	return s, nil
}

// DeleteSession removes the session file of userID. A missing file is not an
// error.
func DeleteSession(dir, userID string) error {
	err := os.Remove(sessionPath(dir, userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
