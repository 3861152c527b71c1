// Package dht holds the record stores a resolver can look identities up in: an
// in-process store standing in for the mainline DHT and an HTTP relay client.
package dht

import (
	"context"

	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

// Store publishes and fetches signed records by public key.
//
// Get returns errs.ErrEntryNotFound when nothing is stored for pub. Any other
// failure to reach the store wraps errs.ErrLookupFailed. Put failures wrap
// errs.ErrEntryNotPublished.
type Store interface {
	Get(ctx context.Context, pub keys.PublicKey) (*record.SignedRecord, error)
	Put(ctx context.Context, r *record.SignedRecord) error
}
