// Package sqljoblogstore implements joblog.Store against Postgres.
package sqljoblogstore

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/go/now"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sql/pool"
)

type statement int

const (
	insertEntry statement = iota
	getEntry
	listEntries
	listEntriesRange
	setStatus
	setStatusDequeued
	setStatusFinished
	setStatusFailed
)

const entryColumns = `id, log_file, log_url, status, error, queued_at,
	dequeued_at, finished_at, created_at, updated_at`

var statements = map[statement]string{
	insertEntry: `
		INSERT INTO job_logs (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	getEntry: `
		SELECT ` + entryColumns + `
		FROM
			job_logs
		WHERE
			id = $1`,
	listEntries: `
		SELECT ` + entryColumns + `
		FROM
			job_logs
		ORDER BY
			queued_at DESC
		LIMIT $1`,
	listEntriesRange: `
		SELECT ` + entryColumns + `
		FROM
			job_logs
		WHERE
			queued_at >= $1 AND queued_at < $2
		ORDER BY
			queued_at DESC`,
	setStatus: `
		UPDATE job_logs
		SET status = $2, updated_at = $3
		WHERE id = $1`,
	setStatusDequeued: `
		UPDATE job_logs
		SET status = $2, dequeued_at = $3, updated_at = $3
		WHERE id = $1`,
	setStatusFinished: `
		UPDATE job_logs
		SET status = $2, finished_at = $3, updated_at = $3
		WHERE id = $1`,
	setStatusFailed: `
		UPDATE job_logs
		SET status = $2, error = $3, finished_at = $4, updated_at = $4
		WHERE id = $1`,
}

// SQLJobLogStore implements joblog.Store.
type SQLJobLogStore struct {
	db pool.Pool
}

// New returns a *SQLJobLogStore using the given database pool.
func New(db pool.Pool) *SQLJobLogStore {
	return &SQLJobLogStore{db: db}
}

// Create implements joblog.Store.
func (s *SQLJobLogStore) Create(ctx context.Context, id, logFile, logURL string) (*joblog.Entry, error) {
	if id == "" {
		return nil, skerr.Fmt("Job log entries require an id.")
	}
	ts := now.Now(ctx)
	entry := &joblog.Entry{
		ID:        id,
		LogFile:   logFile,
		LogURL:    logURL,
		Status:    joblog.StatusPending,
		QueuedAt:  ts,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if _, err := s.db.Exec(ctx, statements[insertEntry],
		entry.ID, entry.LogFile, entry.LogURL, entry.Status, nil,
		entry.QueuedAt, nil, nil, entry.CreatedAt, entry.UpdatedAt); err != nil {
		return nil, skerr.Wrapf(err, "Creating job log entry %q", id)
	}
	return entry, nil
}

// SetStatus implements joblog.Store.
func (s *SQLJobLogStore) SetStatus(ctx context.Context, id string, status joblog.Status, errMsg string) error {
	ts := now.Now(ctx)
	var tag pgconn.CommandTag
	var err error
	switch status {
	case joblog.StatusRunning:
		tag, err = s.db.Exec(ctx, statements[setStatusDequeued], id, status, ts)
	case joblog.StatusSuccessful:
		tag, err = s.db.Exec(ctx, statements[setStatusFinished], id, status, ts)
	case joblog.StatusFailed:
		tag, err = s.db.Exec(ctx, statements[setStatusFailed], id, status, errMsg, ts)
	case joblog.StatusPending:
		tag, err = s.db.Exec(ctx, statements[setStatus], id, status, ts)
	default:
		return skerr.Fmt("Unknown job status %q.", status)
	}
	if err != nil {
		return skerr.Wrapf(err, "Setting job %q to %q", id, status)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Fmt("No job log entry with id %q.", id)
	}
	return nil
}

func scanEntry(row pgx.Row) (*joblog.Entry, error) {
	var e joblog.Entry
	var errMsg *string
	if err := row.Scan(&e.ID, &e.LogFile, &e.LogURL, &e.Status, &errMsg,
		&e.QueuedAt, &e.DequeuedAt, &e.FinishedAt, &e.CreatedAt,
		&e.UpdatedAt); err != nil {
		return nil, skerr.Wrap(err)
	}
	if errMsg != nil {
		e.Error = *errMsg
	}
	return &e, nil
}

// Get implements joblog.Store.
func (s *SQLJobLogStore) Get(ctx context.Context, id string) (*joblog.Entry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, statements[getEntry], id))
	if err != nil {
		return nil, skerr.Wrapf(err, "Getting job log entry %q", id)
	}
	return e, nil
}

func (s *SQLJobLogStore) scanEntries(rows pgx.Rows) ([]*joblog.Entry, error) {
	defer rows.Close()
	ret := []*joblog.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// List implements joblog.Store.
func (s *SQLJobLogStore) List(ctx context.Context, limit int) ([]*joblog.Entry, error) {
	rows, err := s.db.Query(ctx, statements[listEntries], limit)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return s.scanEntries(rows)
}

// ListRange implements joblog.Store.
func (s *SQLJobLogStore) ListRange(ctx context.Context, from, to time.Time) ([]*joblog.Entry, error) {
	rows, err := s.db.Query(ctx, statements[listEntriesRange], from, to)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return s.scanEntries(rows)
}

// Confirm SQLJobLogStore implements joblog.Store.
var _ joblog.Store = (*SQLJobLogStore)(nil)
