package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "crosspost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
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

func (s *sqliteStore) CreateBatch(ctx context.Context, b *PublishBatch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = b.CreatedAt
	}
	if b.Status == "" {
		b.Status = BatchRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_batches(id, name, article_id, targets, status, total_count, success_count, failed_count, created_at, started_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Name, b.ArticleID, strings.Join(b.Targets, ","), string(b.Status),
		b.TotalCount, b.SuccessCount, b.FailedCount, fmtTime(b.CreatedAt), fmtTime(b.StartedAt),
	)
	return err
}

func (s *sqliteStore) CompleteBatch(ctx context.Context, id string, status BatchStatus, success, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_batches
		 SET status = ?, success_count = ?, failed_count = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), success, failed, fmtTime(time.Now()), id, string(BatchRunning),
	)
	if err != nil {
		return err
	}
	return affectedOrBadTransition(res)
}

func (s *sqliteStore) GetBatch(ctx context.Context, id string) (PublishBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, article_id, targets, status, total_count, success_count, failed_count, created_at, started_at, completed_at
		 FROM publish_batches WHERE id = ?`, id)

	var b PublishBatch
	var targets string
	var created, started, completed sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.ArticleID, &targets, &b.Status,
		&b.TotalCount, &b.SuccessCount, &b.FailedCount, &created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return PublishBatch{}, ErrNotFound
	}
	if err != nil {
		return PublishBatch{}, err
	}
	if targets != "" {
		b.Targets = strings.Split(targets, ",")
	}
	b.CreatedAt = parseTime(created)
	b.StartedAt = parseTime(started)
	b.CompletedAt = parseTime(completed)
	return b, nil
}

// CreateRecord inserts the record in its starting state within one
// transaction so "record exists" and "record is PUBLISHING/SCHEDULED"
// are never observable separately.
func (s *sqliteStore) CreateRecord(ctx context.Context, r *PublishRecord) error {
	switch r.Status {
	case StatusPublishing, StatusScheduled, StatusPending:
	default:
		return fmt.Errorf("%w: cannot create record in state %s", ErrBadTransition, r.Status)
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO publish_records(id, batch_id, article_id, target, status, title_snapshot, content_snapshot, attempts, scheduled_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.BatchID, r.ArticleID, r.Target, string(r.Status),
		r.TitleSnapshot, r.ContentSnapshot, r.Attempts,
		nullTime(r.ScheduledAt), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) MarkPublishing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_records SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusPublishing), fmtTime(time.Now()),
		id, string(StatusScheduled), string(StatusPending),
	)
	if err != nil {
		return err
	}
	return affectedOrBadTransition(res)
}

func (s *sqliteStore) MarkSuccess(ctx context.Context, id string, itemID, itemURL, statusText string, attempts int) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: SUCCESS requires a platform item id", ErrBadTransition)
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_records
		 SET status = ?, platform_item_id = ?, platform_item_url = ?, platform_status_text = ?,
		     attempts = ?, error_message = NULL, updated_at = ?, published_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusSuccess), itemID, nullStr(itemURL), nullStr(statusText),
		attempts, fmtTime(now), fmtTime(now),
		id, string(StatusPublishing),
	)
	if err != nil {
		return err
	}
	return affectedOrBadTransition(res)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, errMsg string, attempts int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_records
		 SET status = ?, error_message = ?, attempts = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusFailed), nullStr(errMsg), attempts, fmtTime(time.Now()),
		id, string(StatusPublishing),
	)
	if err != nil {
		return err
	}
	return affectedOrBadTransition(res)
}

func (s *sqliteStore) CancelScheduled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_records SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusCancelled), fmtTime(time.Now()), id, string(StatusScheduled),
	)
	if err != nil {
		return err
	}
	return affectedOrBadTransition(res)
}

func (s *sqliteStore) UpdateStats(ctx context.Context, id string, views, likes, comments int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_records SET views = ?, likes = ?, comments = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		views, likes, comments, fmtTime(time.Now()), id, string(StatusSuccess),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const recordCols = `id, batch_id, article_id, target, status,
	platform_item_id, platform_item_url, platform_status_text,
	views, likes, comments, error_message, title_snapshot, content_snapshot,
	attempts, scheduled_at, created_at, updated_at, published_at`

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (PublishRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM publish_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PublishRecord{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) ListByBatch(ctx context.Context, batchID string) ([]PublishRecord, error) {
	return s.list(ctx,
		`SELECT `+recordCols+` FROM publish_records WHERE batch_id = ? ORDER BY created_at, target`, batchID)
}

func (s *sqliteStore) ListByArticle(ctx context.Context, articleID int64) ([]PublishRecord, error) {
	return s.list(ctx,
		`SELECT `+recordCols+` FROM publish_records WHERE article_id = ? ORDER BY created_at, target`, articleID)
}

func (s *sqliteStore) ListReconcilable(ctx context.Context, q ReconcileQuery) ([]PublishRecord, error) {
	query := `SELECT ` + recordCols + ` FROM publish_records
		WHERE status = ? AND platform_item_id IS NOT NULL AND platform_item_id != ''`
	args := []any{string(StatusSuccess)}
	if q.ArticleID != 0 {
		query += ` AND article_id = ?`
		args = append(args, q.ArticleID)
	}
	if q.Target != "" {
		query += ` AND target = ?`
		args = append(args, q.Target)
	}
	if !q.Since.IsZero() {
		query += ` AND published_at >= ?`
		args = append(args, fmtTime(q.Since))
	}
	query += ` ORDER BY published_at`
	return s.list(ctx, query, args...)
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]PublishRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PublishRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (PublishRecord, error) {
	var r PublishRecord
	var itemID, itemURL, statusText, errMsg sql.NullString
	var scheduled, created, updated, published sql.NullString
	err := row.Scan(&r.ID, &r.BatchID, &r.ArticleID, &r.Target, &r.Status,
		&itemID, &itemURL, &statusText,
		&r.Views, &r.Likes, &r.Comments, &errMsg, &r.TitleSnapshot, &r.ContentSnapshot,
		&r.Attempts, &scheduled, &created, &updated, &published)
	if err != nil {
		return PublishRecord{}, err
	}
	r.PlatformItemID = itemID.String
	r.PlatformItemURL = itemURL.String
	r.PlatformStatusText = statusText.String
	r.ErrorMessage = errMsg.String
	r.ScheduledAt = parseTime(scheduled)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	r.PublishedAt = parseTime(published)
	return r, nil
}

func affectedOrBadTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBadTransition
	}
	return nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
