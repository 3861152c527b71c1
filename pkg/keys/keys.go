// Package keys implements Ed25519 identities and their z-base-32 user ids.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"runtime"
)

// Sizes of the key material.
const (
	SeedSize      = ed25519.SeedSize
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// z32 is the z-base-32 alphabet used for user ids.
var z32 = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// ErrInvalidPublicKey is returned when a user id does not decode to a 32-byte key.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is the public half of an identity. Its String form is the user id.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a z-base-32 user id.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := z32.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// PublicKeyFromBytes copies a raw 32-byte key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the z-base-32 user id.
func (pk PublicKey) String() string { return z32.EncodeToString(pk[:]) }

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte { return append([]byte(nil), pk[:]...) }

// Verify reports whether sig is a valid signature of msg by pk.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig)
}

// Keypair is a signing identity. The private half must be scrubbed with Zeroize
// after its last use.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// FromSeed derives a keypair deterministically from a 32-byte seed.
func FromSeed(seed [SeedSize]byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed[:])
	kp := &Keypair{priv: priv}
	copy(kp.pub[:], priv[SeedSize:])
	return kp
}

// Random generates a keypair from the secure random source.
func Random() (*Keypair, error) {
	seed, err := GenerateSeed()
	if err != nil {
		return nil, err
	}
	defer Wipe(seed[:])
	return FromSeed(seed), nil
}

// GenerateSeed returns 32 random bytes suitable for FromSeed.
func GenerateSeed() ([SeedSize]byte, error) {
	var seed [SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, err
	}
	return seed, nil
}

// Public returns the public key.
func (kp *Keypair) Public() PublicKey { return kp.pub }

// UserID returns the z-base-32 encoded public key.
func (kp *Keypair) UserID() string { return kp.pub.String() }

// Sign signs msg. It fails once the keypair has been zeroized.
func (kp *Keypair) Sign(msg []byte) ([]byte, error) {
	if kp.Zeroized() {
		return nil, errors.New("keypair has been zeroized")
	}
	return ed25519.Sign(kp.priv, msg), nil
}

// Zeroize overwrites the private key buffer with zeros.
func (kp *Keypair) Zeroize() { Wipe(kp.priv) }

// Zeroized reports whether the private key buffer is all zero bytes.
func (kp *Keypair) Zeroized() bool {
	for _, b := range kp.priv {
		if b != 0 {
			return false
		}
	}
	return true
}

// Wipe zeroes b. Best-effort: keeps b alive past the loop so the write is not elided.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
