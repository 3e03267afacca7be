// Package prstore persists pull-request records in PostgreSQL through
// database/sql and the lib/pq driver. It is a plain CRUD layer: the
// pull-request lifecycle rules (open until merged, merged exactly
// once) are enforced by the HTTP handlers under the repo lock, with
// the guarded UPDATE here as the final backstop.
package prstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/makeos-kit/gitd/gerr"
)

// PullRequest is the stored record (§3). Number is the caller-facing
// id, unique per repo; ID is the table's own surrogate key.
type PullRequest struct {
	ID               int64     `json:"-"`
	Repo             string    `json:"repo"`
	Number           int       `json:"number"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	BaseBranch       string    `json:"base"`
	HeadBranch       string    `json:"head"`
	CommitAfterMerge string    `json:"commitAfterMerge,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Merged reports whether the PR has been merged: commit-after-merge is
// set exactly once, on successful merge (§3).
func (p *PullRequest) Merged() bool { return p.CommitAfterMerge != "" }

const schema = `
CREATE TABLE IF NOT EXISTS pull_requests (
	id                 SERIAL PRIMARY KEY,
	repo               TEXT NOT NULL,
	number             INTEGER NOT NULL,
	title              TEXT NOT NULL,
	body               TEXT NOT NULL DEFAULT '',
	base_branch        TEXT NOT NULL,
	head_branch        TEXT NOT NULL,
	commit_after_merge TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (repo, number)
)`

// maxOpenConns bounds the request-scoped connection pool (§5).
const maxOpenConns = 16

// Postgres is the PostgreSQL-backed store.
type Postgres struct {
	db *sql.DB
}

// Open connects to databaseURL (the DATABASE_URL form of §6), applies
// the schema, and returns the store.
func Open(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, gerr.Wrap(gerr.DatabaseError, err, "open database")
	}
	db.SetMaxOpenConns(maxOpenConns)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, gerr.Wrap(gerr.DatabaseError, err, "apply schema")
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }

// List returns every pull request in repo, oldest first.
func (s *Postgres) List(ctx context.Context, repo string) ([]*PullRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo, number, title, body, base_branch, head_branch, commit_after_merge, created_at
		 FROM pull_requests WHERE repo = $1 ORDER BY number`, repo)
	if err != nil {
		return nil, gerr.Wrap(gerr.DatabaseError, err, "list pull requests")
	}
	defer rows.Close()

	var prs []*PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, gerr.Wrap(gerr.DatabaseError, err, "list pull requests")
	}
	return prs, nil
}

// Get returns one pull request by per-repo number, failing NotFound.
func (s *Postgres) Get(ctx context.Context, repo string, number int) (*PullRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo, number, title, body, base_branch, head_branch, commit_after_merge, created_at
		 FROM pull_requests WHERE repo = $1 AND number = $2`, repo, number)
	pr, err := scanPR(row)
	if err == sql.ErrNoRows {
		return nil, gerr.New(gerr.NotFound, "pull request not found")
	}
	return pr, err
}

// Create inserts a pull request, assigning the next per-repo number.
func (s *Postgres) Create(ctx context.Context, pr *PullRequest) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO pull_requests (repo, number, title, body, base_branch, head_branch)
		 VALUES ($1, (SELECT COALESCE(MAX(number), 0) + 1 FROM pull_requests WHERE repo = $1), $2, $3, $4, $5)
		 RETURNING number`,
		pr.Repo, pr.Title, pr.Body, pr.BaseBranch, pr.HeadBranch)
	var number int
	if err := row.Scan(&number); err != nil {
		return 0, gerr.Wrap(gerr.DatabaseError, err, "create pull request")
	}
	pr.Number = number
	return number, nil
}

// SetMergedCommit records the merge result. The guarded WHERE makes
// the write first-wins: a second attempt matches no row and fails
// AlreadyExists, which the HTTP layer surfaces as 405 (§4.6).
func (s *Postgres) SetMergedCommit(ctx context.Context, repo string, number int, commit string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET commit_after_merge = $3
		 WHERE repo = $1 AND number = $2 AND commit_after_merge IS NULL`,
		repo, number, commit)
	if err != nil {
		return gerr.Wrap(gerr.DatabaseError, err, "record merge commit")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return gerr.Wrap(gerr.DatabaseError, err, "record merge commit")
	}
	if n == 0 {
		if _, err := s.Get(ctx, repo, number); err != nil {
			return err
		}
		return gerr.New(gerr.AlreadyExists, "pull request already merged")
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPR(row rowScanner) (*PullRequest, error) {
	var pr PullRequest
	var commitAfterMerge sql.NullString
	err := row.Scan(&pr.ID, &pr.Repo, &pr.Number, &pr.Title, &pr.Body,
		&pr.BaseBranch, &pr.HeadBranch, &commitAfterMerge, &pr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, gerr.Wrap(gerr.DatabaseError, err, "scan pull request")
	}
	pr.CommitAfterMerge = commitAfterMerge.String
	return &pr, nil
}
