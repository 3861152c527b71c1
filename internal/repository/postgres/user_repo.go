package postgres

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

var _ repository.UserRepository = (*UserRepo)(nil)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `INSERT INTO users (id) VALUES ($1)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a user by id.
func (r *UserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	const q = `SELECT id, created_at FROM users WHERE id=$1`
	var u model.User
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
