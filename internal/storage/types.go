package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrBadTransition is returned when a state change would violate the
	// record lifecycle (e.g. re-entering a terminal state).
	ErrBadTransition = errors.New("invalid status transition")
)

// Publish record lifecycle:
//
//	PENDING -> PUBLISHING -> {SUCCESS | FAILED}
//	SCHEDULED -> {PUBLISHING | CANCELLED}
//
// Terminal states (SUCCESS/FAILED/CANCELLED) are never re-entered; a
// re-publish creates a new record.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusScheduled  Status = "SCHEDULED"
	StatusPublishing Status = "PUBLISHING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether a status can never change again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// BatchStatus is derived from the per-target outcomes once every
// dispatch in the batch has settled.
type BatchStatus string

const (
	BatchRunning BatchStatus = "RUNNING"
	BatchSuccess BatchStatus = "SUCCESS"
	BatchFailed  BatchStatus = "FAILED"
	BatchPartial BatchStatus = "PARTIAL"
)

// PublishRecord is one (article, target) attempt-series.
//
// Invariants:
//   - PlatformItemID is set iff the record reached SUCCESS.
//   - Title/ContentSnapshot capture the article at dispatch time so the
//     outcome stays auditable after the source article changes.
type PublishRecord struct {
	ID        string
	BatchID   string
	ArticleID int64
	Target    string
	Status    Status

	PlatformItemID     string
	PlatformItemURL    string
	PlatformStatusText string

	Views    int64
	Likes    int64
	Comments int64

	ErrorMessage    string
	TitleSnapshot   string
	ContentSnapshot string
	Attempts        int

	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt time.Time
}

// PublishBatch groups the records created by one dispatch call.
// SuccessCount+FailedCount == TotalCount once CompletedAt is set.
type PublishBatch struct {
	ID        string
	Name      string
	ArticleID int64
	Targets   []string
	Status    BatchStatus

	TotalCount   int
	SuccessCount int
	FailedCount  int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// ReconcileQuery selects SUCCESS records with a platform item id for
// stats reconciliation. Zero fields mean "any".
type ReconcileQuery struct {
	ArticleID int64
	Target    string
	// Since bounds PublishedAt for time-bounded sweeps.
	Since time.Time
}

// Store is the persistence API used by the dispatcher and reconciler.
// No other part of the system writes these tables.
type Store interface {
	CreateBatch(ctx context.Context, b *PublishBatch) error
	CompleteBatch(ctx context.Context, id string, status BatchStatus, success, failed int) error
	GetBatch(ctx context.Context, id string) (PublishBatch, error)

	// CreateRecord inserts a record already in its starting state
	// (PUBLISHING for immediate dispatch, SCHEDULED for deferred) inside
	// one transaction.
	CreateRecord(ctx context.Context, r *PublishRecord) error

	// MarkPublishing moves a SCHEDULED or PENDING record to PUBLISHING.
	MarkPublishing(ctx context.Context, id string) error
	// MarkSuccess finishes a PUBLISHING record with the platform result.
	MarkSuccess(ctx context.Context, id string, itemID, itemURL, statusText string, attempts int) error
	// MarkFailed finishes a PUBLISHING record with an error message.
	MarkFailed(ctx context.Context, id string, errMsg string, attempts int) error
	// CancelScheduled cancels a not-yet-started SCHEDULED record.
	CancelScheduled(ctx context.Context, id string) error

	// UpdateStats overwrites engagement counters (last-write-wins);
	// never changes status.
	UpdateStats(ctx context.Context, id string, views, likes, comments int64) error

	GetRecord(ctx context.Context, id string) (PublishRecord, error)
	ListByBatch(ctx context.Context, batchID string) ([]PublishRecord, error)
	ListByArticle(ctx context.Context, articleID int64) ([]PublishRecord, error)
	ListReconcilable(ctx context.Context, q ReconcileQuery) ([]PublishRecord, error)

	Close() error
}

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
