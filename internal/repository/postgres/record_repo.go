package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

var _ dht.Store = (*RecordRepo)(nil)

// RecordRepo is a dht.Store persisting the newest signed record per key, used
// by the relay.
type RecordRepo struct{ db *DB }

func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

func (r *RecordRepo) Get(ctx context.Context, pub keys.PublicKey) (*record.SignedRecord, error) {
	const q = `SELECT payload FROM relay_records WHERE public_key=$1`
	var payload []byte
	if err := r.db.Pool.QueryRow(ctx, q, pub.Bytes()).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrLookupFailed, err)
	}
	return record.FromRelayPayload(pub, payload)
}

// Put stores rec unless a record at least as new is already held.
func (r *RecordRepo) Put(ctx context.Context, rec *record.SignedRecord) error {
	if err := rec.Verify(); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, err)
	}
	const q = `
INSERT INTO relay_records (public_key, payload, ts)
VALUES ($1, $2, $3)
ON CONFLICT (public_key)
DO UPDATE SET payload=EXCLUDED.payload, ts=EXCLUDED.ts, updated_at=now()
WHERE relay_records.ts < EXCLUDED.ts`
	tag, err := r.db.Pool.Exec(ctx, q, rec.PublicKey.Bytes(), rec.RelayPayload(), int64(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrEntryNotPublished, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, errs.ErrStaleRecord)
	}
	return nil
}
