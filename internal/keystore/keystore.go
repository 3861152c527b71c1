// Package keystore keeps an identity seed encrypted at rest.
//
// A sealed seed is
//
//	magic(4) ‖ version(1) ‖ time(4) ‖ memory(4) ‖ threads(1) ‖ salt(16) ‖ nonce(24) ‖ ciphertext
//
// The key is HKDF-SHA256 over an Argon2id KEK derived from the passphrase.
// The header is authenticated as additional data.
package keystore

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pubky/pubky-core-client/pkg/keys"
)

const (
	version   = 1
	saltLen   = 16
	keyLen    = 32
	headerLen = 4 + 1 + 4 + 4 + 1 + saltLen
)

var magic = []byte("PKYS")

var (
	// ErrWrongPassphrase is returned when the seed cannot be decrypted.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")
	// ErrMalformed is returned for input that is not a sealed seed.
	ErrMalformed = errors.New("malformed keystore")
	// ErrEmptyPassphrase is returned by Seal for an empty passphrase.
	ErrEmptyPassphrase = errors.New("empty passphrase")
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams is used by Seal.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1}

// Upper bounds on the cost parameters accepted from a keystore file.
const (
	MaxTime    = 16
	MaxMemory  = 1 << 20 // KiB, 1 GiB
	MaxThreads = 16
)

func (p Params) valid() bool {
	return p.Time > 0 && p.Time <= MaxTime &&
		p.Memory > 0 && p.Memory <= MaxMemory &&
		p.Threads > 0 && p.Threads <= MaxThreads
}

func rnd(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func deriveKey(passphrase, salt []byte, p Params) ([]byte, error) {
	kek := argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, keyLen)
	defer keys.Wipe(kek)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, kek, salt, []byte("pubky:keystore:seed")), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts seed under passphrase with DefaultParams.
func Seal(passphrase []byte, seed [keys.SeedSize]byte) ([]byte, error) {
	return SealWith(DefaultParams, passphrase, seed)
}

// SealWith encrypts seed under passphrase with the given cost parameters.
func SealWith(p Params, passphrase []byte, seed [keys.SeedSize]byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if !p.valid() {
		return nil, fmt.Errorf("invalid argon2 params %+v", p)
	}
	salt, err := rnd(saltLen)
	if err != nil {
		return nil, err
	}
	nonce, err := rnd(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLen)
	header = append(header, magic...)
	header = append(header, version)
	header = binary.BigEndian.AppendUint32(header, p.Time)
	header = binary.BigEndian.AppendUint32(header, p.Memory)
	header = append(header, p.Threads)
	header = append(header, salt...)

	key, err := deriveKey(passphrase, salt, p)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(header)+len(nonce)+keys.SeedSize+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, seed[:], header), nil
}

// Open decrypts a sealed seed.
func Open(passphrase, sealed []byte) ([keys.SeedSize]byte, error) {
	var seed [keys.SeedSize]byte
	if len(sealed) < headerLen+chacha20poly1305.NonceSizeX || !bytes.Equal(sealed[:4], magic) {
		return seed, ErrMalformed
	}
	if sealed[4] != version {
		return seed, fmt.Errorf("%w: unsupported version %d", ErrMalformed, sealed[4])
	}
	p := Params{
		Time:    binary.BigEndian.Uint32(sealed[5:9]),
		Memory:  binary.BigEndian.Uint32(sealed[9:13]),
		Threads: sealed[13],
	}
	if !p.valid() {
		return seed, fmt.Errorf("%w: argon2 params %+v out of range", ErrMalformed, p)
	}
	header := sealed[:headerLen]
	salt := sealed[14:headerLen]
	nonce := sealed[headerLen : headerLen+chacha20poly1305.NonceSizeX]
	ct := sealed[headerLen+chacha20poly1305.NonceSizeX:]

	key, err := deriveKey(passphrase, salt, p)
	if err != nil {
		return seed, err
	}
	defer keys.Wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return seed, err
	}
	pt, err := aead.Open(nil, nonce, ct, header)
	if err != nil {
		return seed, ErrWrongPassphrase
	}
	defer keys.Wipe(pt)
	if len(pt) != keys.SeedSize {
		return seed, ErrMalformed
	}
	copy(seed[:], pt)
	return seed, nil
}

// Save seals seed and writes it to path with owner-only permissions.
func Save(path string, passphrase []byte, seed [keys.SeedSize]byte) error {
	sealed, err := Seal(passphrase, seed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}

// Load reads and opens the seed stored at path.
func Load(path string, passphrase []byte) ([keys.SeedSize]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return [keys.SeedSize]byte{}, err
	}
	return Open(passphrase, b)
}
