package postgres

import (
	"context"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/errs"
)

var _ repository.BlobRepository = (*BlobRepo)(nil)

// BlobRepo implements BlobRepository using PostgreSQL.
type BlobRepo struct{ db *DB }

// NewBlobRepo constructs a repo/entry repository.
func NewBlobRepo(db *DB) *BlobRepo { return &BlobRepo{db: db} }

// CreateRepo inserts an empty repo.
func (r *BlobRepo) CreateRepo(ctx context.Context, repo *model.Repo) error {
	const q = `INSERT INTO repos (user_id, name) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, repo.UserID, repo.Name)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetRepo selects a repo by owner and name.
func (r *BlobRepo) GetRepo(ctx context.Context, userID, name string) (*model.Repo, error) {
	const q = `SELECT user_id, name, created_at FROM repos WHERE user_id=$1 AND name=$2`
	var repo model.Repo
	if err := r.db.Pool.QueryRow(ctx, q, userID, name).Scan(&repo.UserID, &repo.Name, &repo.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &repo, nil
}

// Put upserts an entry, bumping its version. A missing repo yields no row.
func (r *BlobRepo) Put(ctx context.Context, e *model.Entry) (int64, error) {
	const q = `
INSERT INTO entries (user_id, repo, path, data, ver, updated_at)
SELECT $1, $2, $3, $4, 1, now()
WHERE EXISTS (SELECT 1 FROM repos WHERE user_id=$1 AND name=$2)
ON CONFLICT (user_id, repo, path)
DO UPDATE SET data=EXCLUDED.data, ver=entries.ver+1, updated_at=now()
RETURNING ver`
	var ver int64
	if err := r.db.Pool.QueryRow(ctx, q, e.UserID, e.Repo, e.Path, e.Data).Scan(&ver); err != nil {
		return 0, notFound(err)
	}
	return ver, nil
}

// Get selects a single entry.
func (r *BlobRepo) Get(ctx context.Context, userID, repo, path string) (*model.Entry, error) {
	const q = `
SELECT data, ver, updated_at
FROM entries WHERE user_id=$1 AND repo=$2 AND path=$3`
	e := model.Entry{UserID: userID, Repo: repo, Path: path}
	if err := r.db.Pool.QueryRow(ctx, q, userID, repo, path).Scan(&e.Data, &e.Ver, &e.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// Delete removes a single entry.
func (r *BlobRepo) Delete(ctx context.Context, userID, repo, path string) error {
	const q = `DELETE FROM entries WHERE user_id=$1 AND repo=$2 AND path=$3`
	tag, err := r.db.Pool.Exec(ctx, q, userID, repo, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// List returns entry paths under prefix, checking the repo exists first.
func (r *BlobRepo) List(ctx context.Context, userID, repo, prefix string) ([]string, error) {
	if _, err := r.GetRepo(ctx, userID, repo); err != nil {
		return nil, err
	}
	const q = `
SELECT path FROM entries
WHERE user_id=$1 AND repo=$2 AND starts_with(path, $3)
ORDER BY path`
	rows, err := r.db.Pool.Query(ctx, q, userID, repo, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
