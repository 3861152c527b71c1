// Package errs contains sentinel errors shared by the resolver, auth, transport and
// homeserver layers.
package errs

import "errors"

// Record store sentinels.
var (
	// ErrEntryNotFound indicates the record store holds no record for the key.
	ErrEntryNotFound = errors.New("dht entry not found")

	// ErrEntryNotPublished indicates the record store rejected a publish.
	ErrEntryNotPublished = errors.New("failed to publish dht entry")

	// ErrLookupFailed indicates the record store could not be queried.
	ErrLookupFailed = errors.New("failed to look up dht entry")

	// ErrNoRecordsFound indicates a record exists but carries no usable attribute.
	ErrNoRecordsFound = errors.New("no records found")

	// ErrInvalidRecordURL indicates a record attribute could not be parsed as a URL.
	ErrInvalidRecordURL = errors.New("failed to parse dns record as url")

	// ErrInvalidRecord indicates a malformed or badly signed record.
	ErrInvalidRecord = errors.New("invalid signed record")

	// ErrStaleRecord indicates a publish older than the record already stored.
	ErrStaleRecord = errors.New("stale record")
)

// Transport sentinels.
var (
	// ErrRequestFailed indicates an HTTP exchange failed or returned a non-2xx status.
	ErrRequestFailed = errors.New("failed to send http request")
)

// Auth sentinels.
var (
	// ErrNoHomeserver indicates no homeserver URL is known for the identity.
	ErrNoHomeserver = errors.New("no homeserver")

	// ErrNoSession indicates there is no active session.
	ErrNoSession = errors.New("no session")

	// ErrNotSignedUp indicates the user id has no local auth state.
	ErrNotSignedUp = errors.New("user not signed up")

	// ErrUnauthorized indicates the homeserver refused the signature or session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates too many failed signature attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., user id taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Homeserver sentinels.
var (
	// ErrForbidden indicates an authenticated session acting on another user's data.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput indicates a malformed request (bad user id, path or payload).
	ErrInvalidInput = errors.New("invalid input")

	// ErrTooLarge indicates a payload above the configured limit.
	ErrTooLarge = errors.New("payload too large")
)
