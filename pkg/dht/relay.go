package dht

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

// maxRelayBody bounds a relay response: signature, timestamp and packet.
const maxRelayBody = keys.SignatureSize + 8 + record.MaxPacketSize

// Relay is a Store backed by an HTTP relay speaking
//
//	GET {base}/{z32}  → signature ‖ timestamp ‖ packet
//	PUT {base}/{z32}  ← signature ‖ timestamp ‖ packet
type Relay struct {
	base *url.URL
	http *http.Client
}

var _ Store = (*Relay)(nil)

// NewRelay returns a relay client for base. A nil hc uses http.DefaultClient.
func NewRelay(base string, hc *http.Client) (*Relay, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http(s): %q", base)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Relay{base: u, http: hc}, nil
}

// URL returns the relay base URL.
func (r *Relay) URL() string { return r.base.String() }

func (r *Relay) endpoint(pub keys.PublicKey) string {
	return r.base.JoinPath(pub.String()).String()
}

func (r *Relay) Get(ctx context.Context, pub keys.PublicKey) (*record.SignedRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(pub), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLookupFailed, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.ErrEntryNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: relay returned %s", errs.ErrLookupFailed, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrLookupFailed, err)
	}
	if len(body) > maxRelayBody {
		return nil, fmt.Errorf("%w: relay body exceeds %d bytes", errs.ErrInvalidRecord, maxRelayBody)
	}
	return record.FromRelayPayload(pub, body)
}

func (r *Relay) Put(ctx context.Context, rec *record.SignedRecord) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.endpoint(rec.PublicKey), bytes.NewReader(rec.RelayPayload()))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrEntryNotPublished, err)
	}
	req.Header.Set("Content-Type", "application/pkarr.org/relays#payload")
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrEntryNotPublished, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: relay returned %s: %s", errs.ErrEntryNotPublished, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
