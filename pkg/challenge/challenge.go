// Package challenge implements the homeserver's signed, time-bounded nonce.
//
// A challenge travels as 40 bytes: the 32-byte value followed by the expiry as
// big-endian Unix seconds. The bytes that get signed are never transmitted; both
// sides derive them from the value with a BLAKE3 keyed derivation under the
// "pubky:homeserver:challenge" context, so a signature cannot be replayed in
// another protocol.
package challenge

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/pubky/pubky-core-client/pkg/keys"
)

// Context is the BLAKE3 derive-key context binding signatures to this protocol.
const Context = "pubky:homeserver:challenge"

// Sizes of the wire form.
const (
	ValueSize = 32
	Size      = ValueSize + 8
)

var (
	// ErrExpired is returned when a challenge is verified or signed past its expiry.
	ErrExpired = errors.New("expired challenge")
	// ErrInvalidSignature is returned when the signature does not match Signable.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidLength is returned when the wire form is not 40 bytes.
	ErrInvalidLength = errors.New("invalid challenge length")
)

// Challenge is a nonce issued by a homeserver.
type Challenge struct {
	Value     [ValueSize]byte
	ExpiresAt uint64
	// Signable is derived from Value; it is never read from the wire.
	Signable [32]byte

	now func() time.Time
}

// New creates a challenge with a random value.
func New(expiresAt uint64) (Challenge, error) {
	var v [ValueSize]byte
	if _, err := rand.Read(v[:]); err != nil {
		return Challenge{}, err
	}
	return FromValue(v, expiresAt), nil
}

// FromValue creates a challenge around a caller supplied value.
func FromValue(value [ValueSize]byte, expiresAt uint64) Challenge {
	return Challenge{Value: value, ExpiresAt: expiresAt, Signable: DeriveSignable(value[:])}
}

// DeriveSignable returns the domain separated bytes a client signs for value.
func DeriveSignable(value []byte) [32]byte {
	var out [32]byte
	blake3.DeriveKey(Context, value, out[:])
	return out
}

// Serialize returns value ‖ expires_at (big-endian).
func (c Challenge) Serialize() []byte {
	b := make([]byte, Size)
	copy(b, c.Value[:])
	binary.BigEndian.PutUint64(b[ValueSize:], c.ExpiresAt)
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c Challenge) MarshalBinary() ([]byte, error) { return c.Serialize(), nil }

// Deserialize parses the 40-byte wire form and recomputes Signable.
func Deserialize(b []byte) (Challenge, error) {
	if len(b) != Size {
		return Challenge{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), Size)
	}
	var v [ValueSize]byte
	copy(v[:], b[:ValueSize])
	return FromValue(v, binary.BigEndian.Uint64(b[ValueSize:])), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Challenge) UnmarshalBinary(b []byte) error {
	d, err := Deserialize(b)
	if err != nil {
		return err
	}
	*c = d
	return nil
}

// WithClock returns a copy of c that reads the current time from now.
func (c Challenge) WithClock(now func() time.Time) Challenge {
	c.now = now
	return c
}

// Expired reports whether ExpiresAt <= now.
func (c Challenge) Expired() bool {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return c.ExpiredAt(now())
}

// ExpiredAt reports whether the challenge is expired at t.
func (c Challenge) ExpiredAt(t time.Time) bool {
	return c.ExpiresAt <= uint64(t.Unix())
}

// Sign signs Signable with kp.
func (c Challenge) Sign(kp *keys.Keypair) ([]byte, error) {
	return kp.Sign(c.Signable[:])
}

// Verify checks expiry and then the signature over Signable.
func (c Challenge) Verify(sig []byte, pub keys.PublicKey) error {
	if c.Expired() {
		return ErrExpired
	}
	if !pub.Verify(c.Signable[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
