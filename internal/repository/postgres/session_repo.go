package postgres

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

var _ repository.SessionRepository = (*SessionRepo)(nil)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, created_at, expires_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get returns a session unless it is unknown or expired.
func (r *SessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	const q = `
SELECT id, user_id, created_at, expires_at
FROM sessions WHERE id=$1 AND expires_at > now()`
	var s model.Session
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
