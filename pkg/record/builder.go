package record

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
)

type pending struct {
	name string
	rr   func(hdr dns.RR_Header) dns.RR
	typ  uint16
	ttl  uint32
}

// Builder collects records with names relative to the signer's key.
type Builder struct {
	items []pending
}

// NewBuilder returns an empty record set.
func NewBuilder() *Builder { return &Builder{} }

// TXT adds a TXT record holding the given character-strings.
func (b *Builder) TXT(name string, ttl uint32, txt ...string) *Builder {
	strs := append([]string(nil), txt...)
	b.items = append(b.items, pending{name: name, typ: dns.TypeTXT, ttl: ttl, rr: func(h dns.RR_Header) dns.RR {
		return &dns.TXT{Hdr: h, Txt: strs}
	}})
	return b
}

// CNAME adds a CNAME record pointing at target.
func (b *Builder) CNAME(name string, ttl uint32, target string) *Builder {
	fq := dns.Fqdn(target)
	b.items = append(b.items, pending{name: name, typ: dns.TypeCNAME, ttl: ttl, rr: func(h dns.RR_Header) dns.RR {
		return &dns.CNAME{Hdr: h, Target: fq}
	}})
	return b
}

// Len returns the number of records added.
func (b *Builder) Len() int { return len(b.items) }

// Sign packs the record set and signs it with kp at time at.
func (b *Builder) Sign(kp *keys.Keypair, at time.Time) (*SignedRecord, error) {
	if len(b.items) == 0 {
		return nil, ErrEmptyBuilder
	}
	origin := dns.Fqdn(kp.UserID())

	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	for _, it := range b.items {
		hdr := dns.RR_Header{Name: qualify(it.name, origin), Rrtype: it.typ, Class: dns.ClassINET, Ttl: it.ttl}
		m.Answer = append(m.Answer, it.rr(hdr))
	}
	packet, err := m.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: pack: %v", errs.ErrInvalidRecord, err)
	}
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet is %d bytes", errs.ErrInvalidRecord, len(packet))
	}

	ts := uint64(at.UnixMicro())
	sig, err := kp.Sign(signable(ts, packet))
	if err != nil {
		return nil, err
	}
	r := &SignedRecord{PublicKey: kp.Public(), Timestamp: ts, Packet: packet}
	copy(r.Signature[:], sig)
	return r, nil
}
