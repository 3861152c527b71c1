// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
)

// UserRepository stores signed-up identities.
type UserRepository interface {
	// Create inserts a new user; errs.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, u *model.User) error
	// Get loads a user by id; errs.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository stores live sessions so they can be revoked.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	// Get returns errs.ErrNotFound for unknown or revoked sessions.
	Get(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}
