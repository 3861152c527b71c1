package repository

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
)

// BlobRepository stores repos and their entries.
type BlobRepository interface {
	// CreateRepo creates an empty repo; errs.ErrAlreadyExists if present.
	CreateRepo(ctx context.Context, r *model.Repo) error
	// GetRepo returns errs.ErrNotFound when the repo does not exist.
	GetRepo(ctx context.Context, userID, name string) (*model.Repo, error)
	// Put inserts or replaces an entry and returns its new version.
	Put(ctx context.Context, e *model.Entry) (int64, error)
	// Get loads an entry; errs.ErrNotFound if absent.
	Get(ctx context.Context, userID, repo, path string) (*model.Entry, error)
	// Delete removes an entry; errs.ErrNotFound if absent.
	Delete(ctx context.Context, userID, repo, path string) error
	// List returns the paths in repo starting with prefix, sorted.
	List(ctx context.Context, userID, repo, prefix string) ([]string, error)
}
