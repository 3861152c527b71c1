// Package model defines homeserver entities used by services and repositories.
package model

import "time"

// User is an identity that completed signup. ID is its z-base-32 public key.
type User struct {
	ID        string
	CreatedAt time.Time
}

// Session is an issued session. ID is the token's unique id; the token itself
// is handed to the client as the session cookie and never stored.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Token pairs a session with the signed value sent to the client.
type Token struct {
	Value   string
	Session Session
}

// Repo is a named container of entries owned by one user.
type Repo struct {
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Entry is one stored value within a repo.
type Entry struct {
	UserID    string
	Repo      string
	Path      string
	Data      []byte
	Ver       int64 // incremented on every put, starting at 1
	UpdatedAt time.Time
}
