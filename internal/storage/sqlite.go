package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveThread(ctx context.Context, t *thread.Thread) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO threads(id, status, scheduled_at, created_at, completed_at, failed_position, last_error, metadata)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, scheduled_at=excluded.scheduled_at,
		   completed_at=excluded.completed_at, failed_position=excluded.failed_position,
		   last_error=excluded.last_error, metadata=excluded.metadata`,
		t.ID, string(t.Status), t.ScheduledTime.UnixMilli(), t.CreatedAt.UnixMilli(),
		nullTime(t.CompletedAt), t.FailedPosition, nullStr(t.LastError), string(meta),
	)
	if err != nil {
		return err
	}

	// Post shape is immutable after scheduling; replacing the rows wholesale
	// keeps the upsert simple.
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE thread_id = ?`, t.ID); err != nil {
		return err
	}
	for i := range t.Posts {
		p := &t.Posts[i]
		tags, err := json.Marshal(p.Tags)
		if err != nil {
			return err
		}
		media, err := json.Marshal(p.MediaRefs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO posts(thread_id, position, content, tags, media_refs, remote_id, parent_remote_id, engagement)
			 VALUES(?,?,?,?,?,?,?,?)`,
			t.ID, p.Position, p.Content, string(tags), string(media),
			nullStr(p.RemoteID), nullStr(p.ParentRemoteID), p.EstimatedEngagement,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetThread(ctx context.Context, id string) (*thread.Thread, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, scheduled_at, created_at, completed_at, failed_position, last_error, metadata
		 FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := s.loadPosts(ctx, t); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) DeleteThread(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE thread_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListThreads(ctx context.Context, statuses ...thread.Status) ([]*thread.Thread, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, status, scheduled_at, created_at, completed_at, failed_position, last_error, metadata FROM threads`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		ph := make([]string, len(statuses))
		for i, st := range statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		q += ` WHERE status IN (` + strings.Join(ph, ",") + `)`
	}
	q += ` ORDER BY scheduled_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*thread.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		if err := s.loadPosts(ctx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(r rowScanner) (*thread.Thread, error) {
	var (
		t           thread.Thread
		status      string
		schedMS     int64
		createdMS   int64
		completedMS sql.NullInt64
		lastErr     sql.NullString
		meta        sql.NullString
	)
	if err := r.Scan(&t.ID, &status, &schedMS, &createdMS, &completedMS, &t.FailedPosition, &lastErr, &meta); err != nil {
		return nil, err
	}
	t.Status = thread.Status(status)
	t.ScheduledTime = time.UnixMilli(schedMS)
	t.CreatedAt = time.UnixMilli(createdMS)
	if completedMS.Valid {
		t.CompletedAt = time.UnixMilli(completedMS.Int64)
	}
	t.LastError = lastErr.String
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *sqliteStore) loadPosts(ctx context.Context, t *thread.Thread) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, content, tags, media_refs, remote_id, parent_remote_id, engagement
		 FROM posts WHERE thread_id = ? ORDER BY position`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      thread.Post
			tags   sql.NullString
			media  sql.NullString
			rid    sql.NullString
			parent sql.NullString
		)
		if err := rows.Scan(&p.Position, &p.Content, &tags, &media, &rid, &parent, &p.EstimatedEngagement); err != nil {
			return err
		}
		if tags.Valid && tags.String != "" && tags.String != "null" {
			if err := json.Unmarshal([]byte(tags.String), &p.Tags); err != nil {
				return err
			}
		}
		if media.Valid && media.String != "" && media.String != "null" {
			if err := json.Unmarshal([]byte(media.String), &p.MediaRefs); err != nil {
				return err
			}
		}
		p.RemoteID = rid.String
		p.ParentRemoteID = parent.String
		t.Posts = append(t.Posts, p)
	}
	return rows.Err()
}

func (s *sqliteStore) PutTask(ctx context.Context, t Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, kind, due_at, thread_id, label) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, due_at=excluded.due_at,
		   thread_id=excluded.thread_id, label=excluded.label`,
		t.ID, t.Kind, t.DueAt.UnixMilli(), t.ThreadID, nullStr(t.Label),
	)
	return err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) DeleteThreadTasks(ctx context.Context, threadID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE thread_id = ?`, threadID)
	return err
}

func (s *sqliteStore) PendingTasks(ctx context.Context, kind string) ([]Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, kind, due_at, thread_id, label FROM tasks`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY due_at`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t     Task
			dueMS int64
			label sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Kind, &dueMS, &t.ThreadID, &label); err != nil {
			return nil, err
		}
		t.DueAt = time.UnixMilli(dueMS)
		t.Label = label.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertSample(ctx context.Context, sm Sample) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	metrics, err := json.Marshal(sm.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO samples(thread_id, remote_id, label, metrics, collected_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(remote_id, label) DO UPDATE SET
		   thread_id=excluded.thread_id, metrics=excluded.metrics, collected_at=excluded.collected_at`,
		sm.ThreadID, sm.RemoteID, sm.Label, string(metrics), sm.CollectedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListSamples(ctx context.Context, threadID string) ([]Sample, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, remote_id, label, metrics, collected_at
		 FROM samples WHERE thread_id = ? ORDER BY remote_id, label`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			sm      Sample
			metrics string
			atMS    int64
		)
		if err := rows.Scan(&sm.ThreadID, &sm.RemoteID, &sm.Label, &metrics, &atMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metrics), &sm.Metrics); err != nil {
			return nil, err
		}
		sm.CollectedAt = time.UnixMilli(atMS)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutRateWindow(ctx context.Context, w RateWindow) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_windows(bucket, count, reset_at) VALUES(?,?,?)
		 ON CONFLICT(bucket) DO UPDATE SET count=excluded.count, reset_at=excluded.reset_at`,
		w.Bucket, w.Count, w.ResetAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListRateWindows(ctx context.Context, now time.Time) ([]RateWindow, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket, count, reset_at FROM rate_windows WHERE reset_at > ? ORDER BY bucket`,
		now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RateWindow
	for rows.Next() {
		var (
			w       RateWindow
			resetMS int64
		)
		if err := rows.Scan(&w.Bucket, &w.Count, &resetMS); err != nil {
			return nil, err
		}
		w.ResetAt = time.UnixMilli(resetMS)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneRateWindows(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_windows WHERE reset_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
