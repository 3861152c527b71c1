// Package memory contains in-process implementations of repository interfaces,
// used by tests and by the homeserver when no database is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

var (
	_ repository.UserRepository    = (*UserRepo)(nil)
	_ repository.SessionRepository = (*SessionRepo)(nil)
	_ repository.BlobRepository    = (*BlobRepo)(nil)
)

// UserRepo keeps users in a map.
type UserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewUserRepo() *UserRepo { return &UserRepo{users: map[string]model.User{}} }

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.users[u.ID] = cp
	return nil
}

func (r *UserRepo) Get(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// SessionRepo keeps sessions in a map. Expired sessions are dropped on read.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	now      func() time.Time
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: map[string]model.Session{}, now: time.Now}
}

func (r *SessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errs.ErrAlreadyExists
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *SessionRepo) Get(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if !s.ExpiresAt.IsZero() && !r.now().Before(s.ExpiresAt) {
		delete(r.sessions, id)
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (r *SessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

type repoKey struct{ user, name string }

type repoData struct {
	repo    model.Repo
	entries map[string]model.Entry
}

// BlobRepo keeps repos and entries in nested maps.
type BlobRepo struct {
	mu    sync.RWMutex
	repos map[repoKey]*repoData
}

func NewBlobRepo() *BlobRepo { return &BlobRepo{repos: map[repoKey]*repoData{}} }

func (r *BlobRepo) CreateRepo(_ context.Context, repo *model.Repo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := repoKey{repo.UserID, repo.Name}
	if _, ok := r.repos[k]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *repo
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.repos[k] = &repoData{repo: cp, entries: map[string]model.Entry{}}
	return nil
}

func (r *BlobRepo) GetRepo(_ context.Context, userID, name string) (*model.Repo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.repos[repoKey{userID, name}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := d.repo
	return &cp, nil
}

func (r *BlobRepo) Put(_ context.Context, e *model.Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.repos[repoKey{e.UserID, e.Repo}]
	if !ok {
		return 0, errs.ErrNotFound
	}
	cp := *e
	cp.Data = append([]byte(nil), e.Data...)
	cp.Ver = d.entries[e.Path].Ver + 1
	cp.UpdatedAt = time.Now()
	d.entries[e.Path] = cp
	return cp.Ver, nil
}

func (r *BlobRepo) Get(_ context.Context, userID, repo, path string) (*model.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.repos[repoKey{userID, repo}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	e, ok := d.entries[path]
	if !ok {
		return nil, errs.ErrNotFound
	}
	e.Data = append([]byte(nil), e.Data...)
	return &e, nil
}

func (r *BlobRepo) Delete(_ context.Context, userID, repo, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.repos[repoKey{userID, repo}]
	if !ok {
		return errs.ErrNotFound
	}
	if _, ok := d.entries[path]; !ok {
		return errs.ErrNotFound
	}
	delete(d.entries, path)
	return nil
}

func (r *BlobRepo) List(_ context.Context, userID, repo, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.repos[repoKey{userID, repo}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := []string{}
	for p := range d.entries {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
