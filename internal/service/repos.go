package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

const (
	maxRepoName = 255
	maxPath     = 1024
	// DefaultMaxEntrySize bounds a stored entry.
	DefaultMaxEntrySize = 4 << 20
)

// RepoService defines owner-only writes and public reads over user repos.
type RepoService interface {
	CreateRepo(ctx context.Context, sess model.Session, userID, repo string) error
	Put(ctx context.Context, sess model.Session, userID, repo, path string, data []byte) (int64, error)
	Get(ctx context.Context, userID, repo, path string) (*model.Entry, error)
	Delete(ctx context.Context, sess model.Session, userID, repo, path string) error
	List(ctx context.Context, userID, repo, prefix string) ([]string, error)
}

type RepoServiceImpl struct {
	blobs    repository.BlobRepository
	maxEntry int
}

var _ RepoService = (*RepoServiceImpl)(nil)

// NewRepoService constructs RepoService. maxEntry <= 0 selects DefaultMaxEntrySize.
func NewRepoService(blobs repository.BlobRepository, maxEntry int) *RepoServiceImpl {
	if maxEntry <= 0 {
		maxEntry = DefaultMaxEntrySize
	}
	return &RepoServiceImpl{blobs: blobs, maxEntry: maxEntry}
}

// MaxEntrySize returns the largest payload Put accepts.
func (s *RepoServiceImpl) MaxEntrySize() int { return s.maxEntry }

func owner(sess model.Session, userID string) error {
	if sess.UserID != userID {
		return errs.ErrForbidden
	}
	return nil
}

func validRepo(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: repo name %q", errs.ErrInvalidInput, name)
	case len(name) > maxRepoName:
		return fmt.Errorf("%w: repo name too long", errs.ErrInvalidInput)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: repo name %q", errs.ErrInvalidInput, name)
	}
	return nil
}

// cleanPath strips one leading slash and rejects empty or traversing segments.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" || len(p) > maxPath || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path %q", errs.ErrInvalidInput, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: path %q", errs.ErrInvalidInput, p)
		}
	}
	return p, nil
}

func (s *RepoServiceImpl) CreateRepo(ctx context.Context, sess model.Session, userID, repo string) error {
	if err := owner(sess, userID); err != nil {
		return err
	}
	if err := validRepo(repo); err != nil {
		return err
	}
	return s.blobs.CreateRepo(ctx, &model.Repo{UserID: userID, Name: repo})
}

// Put stores data and returns the entry's new version.
func (s *RepoServiceImpl) Put(ctx context.Context, sess model.Session, userID, repo, path string, data []byte) (int64, error) {
	if err := owner(sess, userID); err != nil {
		return 0, err
	}
	if err := validRepo(repo); err != nil {
		return 0, err
	}
	p, err := cleanPath(path)
	if err != nil {
		return 0, err
	}
	if len(data) > s.maxEntry {
		return 0, fmt.Errorf("%w: %d > %d bytes", errs.ErrTooLarge, len(data), s.maxEntry)
	}
	if data == nil {
		data = []byte{}
	}
	return s.blobs.Put(ctx, &model.Entry{UserID: userID, Repo: repo, Path: p, Data: data})
}

// Get is public: entries are readable without a session.
func (s *RepoServiceImpl) Get(ctx context.Context, userID, repo, path string) (*model.Entry, error) {
	if err := validRepo(repo); err != nil {
		return nil, err
	}
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, userID, repo, p)
}

func (s *RepoServiceImpl) Delete(ctx context.Context, sess model.Session, userID, repo, path string) error {
	if err := owner(sess, userID); err != nil {
		return err
	}
	if err := validRepo(repo); err != nil {
		return err
	}
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	return s.blobs.Delete(ctx, userID, repo, p)
}

func (s *RepoServiceImpl) List(ctx context.Context, userID, repo, prefix string) ([]string, error) {
	if err := validRepo(repo); err != nil {
		return nil, err
	}
	return s.blobs.List(ctx, userID, repo, strings.TrimPrefix(prefix, "/"))
}
