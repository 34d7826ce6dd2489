// Package ingest is the collection side of errtrack: an HTTP handler that
// receives batch envelopes from the tracker and an async SQLite store that
// persists them. It exists so a deployment can self-host error collection
// without any third-party backend; triage (issues, comments, labels) stays
// out of scope.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/errtrack/dbopen"
	"github.com/hazyhaar/errtrack/idgen"
	"github.com/hazyhaar/errtrack/report"
)

// Schema for the error_reports table. Pass to dbopen.WithSchema or apply
// manually.
const Schema = `
CREATE TABLE IF NOT EXISTS error_reports (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	stack TEXT,
	source TEXT NOT NULL,
	url TEXT,
	line_no INTEGER,
	col_no INTEGER,
	component_stack TEXT,
	browser_info TEXT,
	session_id TEXT,
	user_id INTEGER,
	environment TEXT,
	app_version TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_error_reports_ts ON error_reports(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_error_reports_session ON error_reports(session_id);
`

// Store persists incoming error records to SQLite asynchronously: a bounded
// channel feeds a single flush goroutine that writes batches of up to 64,
// at least once per second. Ingestion never blocks on the database.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *report.Record
	done  chan struct{}
	once  sync.Once
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets a custom row ID generator.
func WithIDGenerator(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates a store backed by the given database connection and
// starts its flush goroutine. Apply Schema to the database first.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		newID: idgen.Prefixed("err_", idgen.Default),
		ch:    make(chan *report.Record, 1024),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.flushLoop()
	return s
}

// Init creates the error_reports table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// RecordAsync queues a record for async persistence. Non-blocking; drops if
// the buffer is full rather than applying backpressure to ingestion.
func (s *Store) RecordAsync(r *report.Record) {
	select {
	case s.ch <- r:
	default:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*report.Record, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*report.Record) {
	if len(batch) == 0 {
		return
	}

	now := time.Now().Unix()
	err := dbopen.RunTx(context.Background(), s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO error_reports
			(id, message, stack, source, url, line_no, col_no, component_stack,
			 browser_info, session_id, user_id, environment, app_version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range batch {
			browserJSON, _ := json.Marshal(r.BrowserInfo)
			if _, err := stmt.Exec(
				s.newID(), r.Message, r.Stack, string(r.Source), r.URL,
				r.Line, r.Column, r.ComponentStack, string(browserJSON),
				r.SessionID, r.UserID, r.Environment, r.AppVersion, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("ingest store: flush batch", "error", err, "records", len(batch))
	}
}

// StoredRecord is a persisted record plus its storage metadata.
type StoredRecord struct {
	ID        string `json:"id"`
	report.Record
	CreatedAt int64 `json:"created_at"`
}

// Recent returns the newest records, optionally filtered by source.
// Pass an empty source for all.
func (s *Store) Recent(limit int, source string) ([]StoredRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := `SELECT id, message, stack, source, url, line_no, col_no, component_stack,
		browser_info, session_id, user_id, environment, app_version, created_at
		FROM error_reports`
	args := make([]any, 0, 2)
	if source != "" {
		q += " WHERE source = ?"
		args = append(args, source)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ingest: query recent: %w", err)
	}
	defer rows.Close()

	out := []StoredRecord{}
	for rows.Next() {
		var sr StoredRecord
		var stack, url, componentStack, browserJSON, sessionID, environment, appVersion sql.NullString
		var line, col, userID sql.NullInt64
		var src string
		if err := rows.Scan(&sr.ID, &sr.Message, &stack, &src, &url, &line, &col,
			&componentStack, &browserJSON, &sessionID, &userID, &environment,
			&appVersion, &sr.CreatedAt); err != nil {
			return nil, fmt.Errorf("ingest: scan record: %w", err)
		}
		sr.Source = report.Source(src)
		sr.Stack = stack.String
		sr.URL = url.String
		sr.Line = int(line.Int64)
		sr.Column = int(col.Int64)
		sr.ComponentStack = componentStack.String
		sr.SessionID = sessionID.String
		sr.UserID = int(userID.Int64)
		sr.Environment = environment.String
		sr.AppVersion = appVersion.String
		if browserJSON.Valid {
			_ = json.Unmarshal([]byte(browserJSON.String), &sr.BrowserInfo)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Cleanup deletes records older than the retention period. Zero or negative
// days means no cleanup.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	res, err := s.db.ExecContext(ctx, "DELETE FROM error_reports WHERE created_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("ingest: cleanup: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("ingest store: retention cleanup", "deleted", n, "retention_days", retentionDays)
	}
	return nil
}
