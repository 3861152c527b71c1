// Package record implements signed records: a DNS packet of name→value attributes
// signed by the Ed25519 key it is published under.
//
// Layout on the wire (relay body):
//
//	signature (64) ‖ timestamp (8, big-endian microseconds) ‖ dns packet
//
// The signature covers the bencoded form "3:seqi<timestamp>e1:v<len>:<packet>".
// Record names are stored qualified with the publisher's z-base-32 key and are
// looked up relative to it, so "@" is the apex and "_pubky" is "_pubky.<key>".
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
)

// MaxPacketSize is the largest DNS packet a record may carry.
const MaxPacketSize = 1000

// headerSize is signature plus timestamp.
const headerSize = keys.SignatureSize + 8

// Apex is the name addressing the publisher's own key.
const Apex = "@"

// SignedRecord is a self-authenticating record set published under PublicKey.
type SignedRecord struct {
	PublicKey keys.PublicKey
	Signature [keys.SignatureSize]byte
	Timestamp uint64 // microseconds since the Unix epoch
	Packet    []byte

	msg *dns.Msg
}

// signable returns the bencoded message covered by the signature.
func signable(ts uint64, packet []byte) []byte {
	prefix := fmt.Sprintf("3:seqi%de1:v%d:", ts, len(packet))
	out := make([]byte, 0, len(prefix)+len(packet))
	out = append(out, prefix...)
	return append(out, packet...)
}

// FromRelayPayload parses a relay body published under pub and verifies it.
func FromRelayPayload(pub keys.PublicKey, body []byte) (*SignedRecord, error) {
	if len(body) < headerSize {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", errs.ErrInvalidRecord, len(body))
	}
	r := &SignedRecord{PublicKey: pub}
	copy(r.Signature[:], body[:keys.SignatureSize])
	r.Timestamp = binary.BigEndian.Uint64(body[keys.SignatureSize:headerSize])
	r.Packet = append([]byte(nil), body[headerSize:]...)
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// FromBytes parses the full form pub ‖ signature ‖ timestamp ‖ packet.
func FromBytes(b []byte) (*SignedRecord, error) {
	if len(b) < keys.PublicKeySize {
		return nil, fmt.Errorf("%w: too short (%d bytes)", errs.ErrInvalidRecord, len(b))
	}
	pub, err := keys.PublicKeyFromBytes(b[:keys.PublicKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRecord, err)
	}
	return FromRelayPayload(pub, b[keys.PublicKeySize:])
}

// RelayPayload returns signature ‖ timestamp ‖ packet.
func (r *SignedRecord) RelayPayload() []byte {
	out := make([]byte, headerSize, headerSize+len(r.Packet))
	copy(out, r.Signature[:])
	binary.BigEndian.PutUint64(out[keys.SignatureSize:], r.Timestamp)
	return append(out, r.Packet...)
}

// Bytes returns the full form including the public key.
func (r *SignedRecord) Bytes() []byte {
	return append(r.PublicKey.Bytes(), r.RelayPayload()...)
}

// Verify checks the packet size, the signature and that the packet parses.
func (r *SignedRecord) Verify() error {
	if len(r.Packet) > MaxPacketSize {
		return fmt.Errorf("%w: packet is %d bytes", errs.ErrInvalidRecord, len(r.Packet))
	}
	if !r.PublicKey.Verify(signable(r.Timestamp, r.Packet), r.Signature[:]) {
		return fmt.Errorf("%w: bad signature", errs.ErrInvalidRecord)
	}
	if _, err := r.message(); err != nil {
		return err
	}
	return nil
}

// Time returns the publish time.
func (r *SignedRecord) Time() time.Time {
	return time.UnixMicro(int64(r.Timestamp))
}

func (r *SignedRecord) message() (*dns.Msg, error) {
	if r.msg != nil {
		return r.msg, nil
	}
	m := new(dns.Msg)
	if err := m.Unpack(r.Packet); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRecord, err)
	}
	r.msg = m
	return m, nil
}

// Origin returns the fully qualified apex name of the record set.
func (r *SignedRecord) Origin() string { return dns.Fqdn(r.PublicKey.String()) }

// qualify turns a relative name into a name under origin.
func qualify(name, origin string) string {
	name = strings.TrimSuffix(name, ".")
	if name == Apex || name == "" {
		return origin
	}
	bare := strings.TrimSuffix(origin, ".")
	if strings.EqualFold(name, bare) || strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(bare)) {
		return dns.Fqdn(name)
	}
	return dns.Fqdn(name + "." + origin)
}

// Records returns the answers whose name matches name relative to the origin.
// Malformed packets yield no records.
func (r *SignedRecord) Records(name string) []dns.RR {
	m, err := r.message()
	if err != nil {
		return nil
	}
	want := qualify(name, r.Origin())
	var out []dns.RR
	for _, rr := range m.Answer {
		if strings.EqualFold(rr.Header().Name, want) {
			out = append(out, rr)
		}
	}
	return out
}

// Attribute is one key[=value] entry of a TXT record.
type Attribute struct {
	Key      string
	Value    string
	HasValue bool
}

// TXTAttributes parses the character-strings of a TXT record as attributes.
func TXTAttributes(txt *dns.TXT) []Attribute {
	out := make([]Attribute, 0, len(txt.Txt))
	for _, s := range txt.Txt {
		if s == "" {
			continue
		}
		k, v, ok := strings.Cut(s, "=")
		out = append(out, Attribute{Key: k, Value: v, HasValue: ok})
	}
	return out
}

// MinTTL returns the smallest TTL among rrs, or 0 when empty.
func MinTTL(rrs ...dns.RR) uint32 {
	var min uint32
	for i, rr := range rrs {
		if ttl := rr.Header().Ttl; i == 0 || ttl < min {
			min = ttl
		}
	}
	return min
}

// ErrEmptyBuilder is returned when signing a builder without records.
var ErrEmptyBuilder = errors.New("record set is empty")
