package auth

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SessionInfo is the decoded body of a session request.
type SessionInfo struct {
	Users map[string]UserSession `json:"users"`
}

// UserSession lists what a session may do on behalf of one user.
type UserSession struct {
	Permissions []string `json:"permissions"`
}

// DecodeSessionInfo parses the body returned by Auth.Session.
func DecodeSessionInfo(body string) (*SessionInfo, error) {
	var si SessionInfo
	if err := json.Unmarshal([]byte(body), &si); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if si.Users == nil {
		si.Users = map[string]UserSession{}
	}
	return &si, nil
}

// UserIDs returns the ids covered by the session, sorted.
func (s *SessionInfo) UserIDs() []string {
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
