// Package resolver turns a public key into the URL of its homeserver.
//
// Resolution is a mandatory two-hop indirection. The user's record carries
// "_pubky TXT home=<homeserver key>", and the homeserver's own record carries
// "@" as either a CNAME (https) or a "localhost=<:port>" TXT attribute (http).
// Results are cached for the smaller of the two record TTLs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

// Record names and TTLs written by Publish.
const (
	PubkyName = "_pubky"
	PubkyTTL  = 7200
	ApexTTL   = 30

	homeAttr      = "home"
	localhostAttr = "localhost"
)

// Resolver looks identities up in a record store, preferring a relay when one
// is configured.
type Resolver struct {
	store dht.Store
	relay dht.Store
	cache Cache
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRelay makes every lookup and publish go through relay instead of the store.
func WithRelay(relay dht.Store) Option { return func(r *Resolver) { r.relay = relay } }

// WithCache replaces the default MemoryCache.
func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// New returns a resolver over store. store may be nil when a relay is configured.
func New(store dht.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		cache: NewMemoryCache(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CallOption adjusts a single resolve or publish.
type CallOption func(*callOptions)

type callOptions struct {
	relay dht.Store
}

// ViaRelay routes one call through relay, overriding the configured stores.
func ViaRelay(relay dht.Store) CallOption {
	return func(o *callOptions) { o.relay = relay }
}

func (r *Resolver) callOpts(opts []CallOption) callOptions {
	co := callOptions{relay: r.relay}
	for _, o := range opts {
		o(&co)
	}
	return co
}

// ResolveHomeserver returns the homeserver URL of pub. A cached mapping is
// returned without any network lookup.
func (r *Resolver) ResolveHomeserver(ctx context.Context, pub keys.PublicKey, opts ...CallOption) (*url.URL, error) {
	key := pub.String()
	if u, ok := r.cache.Get(key); ok {
		r.log.Debug("homeserver cache hit", zap.String("user_id", key))
		return u, nil
	}
	co := r.callOpts(opts)

	rec, err := r.lookup(ctx, pub, co)
	if err != nil {
		return nil, err
	}
	home, ttl, err := homeAttribute(rec)
	if err != nil {
		return nil, err
	}
	u, apexTTL, err := r.resolveHomeserverURL(ctx, home, co)
	if err != nil {
		return nil, err
	}
	if apexTTL < ttl {
		ttl = apexTTL
	}
	r.cache.Set(key, u, time.Duration(ttl)*time.Second)
	r.log.Debug("homeserver resolved",
		zap.String("user_id", key),
		zap.String("homeserver", home.String()),
		zap.String("url", u.String()),
		zap.Uint32("ttl", ttl),
	)
	out := *u
	return &out, nil
}

// homeAttribute returns the homeserver key named by the first "home" attribute
// of the "_pubky" records, and that record's TTL.
func homeAttribute(rec *record.SignedRecord) (keys.PublicKey, uint32, error) {
	for _, rr := range rec.Records(PubkyName) {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, a := range record.TXTAttributes(txt) {
			if !strings.HasPrefix(a.Key, homeAttr) {
				continue
			}
			if !a.HasValue || a.Value == "" {
				return keys.PublicKey{}, 0, errs.ErrNoRecordsFound
			}
			pk, err := keys.ParsePublicKey(a.Value)
			if err != nil {
				return keys.PublicKey{}, 0, fmt.Errorf("%w: %v", errs.ErrNoRecordsFound, err)
			}
			return pk, txt.Hdr.Ttl, nil
		}
	}
	return keys.PublicKey{}, 0, errs.ErrNoRecordsFound
}

// resolveHomeserverURL reads the "@" records of the homeserver's own key.
func (r *Resolver) resolveHomeserverURL(ctx context.Context, pub keys.PublicKey, co callOptions) (*url.URL, uint32, error) {
	rec, err := r.lookup(ctx, pub, co)
	if err != nil {
		return nil, 0, err
	}
	for _, rr := range rec.Records(record.Apex) {
		switch v := rr.(type) {
		case *dns.CNAME:
			u, err := parseRecordURL("https://" + strings.TrimSuffix(v.Target, "."))
			return u, v.Hdr.Ttl, err
		case *dns.TXT:
			for _, a := range record.TXTAttributes(v) {
				if !strings.HasPrefix(a.Key, localhostAttr) {
					continue
				}
				u, err := parseRecordURL("http://" + a.Key + a.Value)
				return u, v.Hdr.Ttl, err
			}
		}
	}
	return nil, 0, errs.ErrNoRecordsFound
}

func parseRecordURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRecordURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", errs.ErrInvalidRecordURL, raw)
	}
	return u, nil
}

// lookup fetches and verifies the record of pub. The relay wins when set.
func (r *Resolver) lookup(ctx context.Context, pub keys.PublicKey, co callOptions) (*record.SignedRecord, error) {
	store := r.store
	if co.relay != nil {
		store = co.relay
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no record store configured", errs.ErrLookupFailed)
	}
	rec, err := store.Get(ctx, pub)
	switch {
	case errors.Is(err, errs.ErrEntryNotFound):
		return nil, fmt.Errorf("%w: %s", errs.ErrEntryNotFound, pub)
	case errors.Is(err, errs.ErrLookupFailed), errors.Is(err, errs.ErrInvalidRecord):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", errs.ErrLookupFailed, err)
	}
	if rec.PublicKey != pub {
		return nil, fmt.Errorf("%w: record published under %s", errs.ErrInvalidRecord, rec.PublicKey)
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Publish points kp's identity at homeserver and caches the mapping.
//
// The record set holds "_pubky TXT home=<kp>" and an "@" record: a CNAME for
// https hosts, or "localhost=:<port>" for http on a loopback host.
func (r *Resolver) Publish(ctx context.Context, kp *keys.Keypair, homeserver *url.URL, opts ...CallOption) error {
	b := record.NewBuilder().TXT(PubkyName, PubkyTTL, homeAttr+"="+kp.UserID())
	published, err := addApex(b, homeserver)
	if err != nil {
		return err
	}
	rec, err := b.Sign(kp, r.now())
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, err)
	}

	co := r.callOpts(opts)
	store := r.store
	if co.relay != nil {
		store = co.relay
	}
	if store == nil {
		return fmt.Errorf("%w: no record store configured", errs.ErrEntryNotPublished)
	}
	if err := store.Put(ctx, rec); err != nil {
		if errors.Is(err, errs.ErrEntryNotPublished) {
			return err
		}
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, err)
	}

	r.cache.Set(kp.UserID(), published, ApexTTL*time.Second)
	r.log.Info("homeserver published",
		zap.String("user_id", kp.UserID()),
		zap.String("url", published.String()),
	)
	return nil
}

// addApex adds the "@" record for u and returns the URL a resolver will read
// back from it. Only scheme, host and port survive the record.
func addApex(b *record.Builder, u *url.URL) (*url.URL, error) {
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, fmt.Errorf("%w: %q carries more than scheme and host", errs.ErrInvalidRecordURL, u.String())
	}
	host := u.Hostname()
	switch {
	case u.Scheme == "https" && host != "":
		if p := u.Port(); p != "" && p != "443" {
			return nil, fmt.Errorf("%w: CNAME cannot carry port %s", errs.ErrInvalidRecordURL, p)
		}
		b.CNAME(record.Apex, ApexTTL, host)
		return parseRecordURL("https://" + host)
	case u.Scheme == "http" && isLoopback(host):
		attr := localhostAttr
		if p := u.Port(); p != "" {
			attr += "=:" + p
		}
		b.TXT(record.Apex, ApexTTL, attr)
		return parseRecordURL("http://" + strings.Replace(attr, "=", "", 1))
	}
	return nil, fmt.Errorf("%w: cannot publish %q", errs.ErrInvalidRecordURL, u.String())
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Invalidate drops the cached mapping for pub.
func (r *Resolver) Invalidate(pub keys.PublicKey) {
	r.cache.Delete(pub.String())
}
