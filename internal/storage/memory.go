package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store with the same transition guards as
// the sqlite driver. It backs unit tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]PublishBatch
	records map[string]PublishRecord
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]PublishBatch),
		records: make(map[string]PublishRecord),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateBatch(_ context.Context, b *PublishBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = b.CreatedAt
	}
	if b.Status == "" {
		b.Status = BatchRunning
	}
	if _, ok := m.batches[b.ID]; ok {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	m.batches[b.ID] = *b
	return nil
}

func (m *MemoryStore) CompleteBatch(_ context.Context, id string, status BatchStatus, success, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != BatchRunning {
		return ErrBadTransition
	}
	b.Status = status
	b.SuccessCount = success
	b.FailedCount = failed
	b.CompletedAt = time.Now()
	m.batches[id] = b
	return nil
}

func (m *MemoryStore) GetBatch(_ context.Context, id string) (PublishBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return PublishBatch{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) CreateRecord(_ context.Context, r *PublishRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Status {
	case StatusPublishing, StatusScheduled, StatusPending:
	default:
		return fmt.Errorf("%w: cannot create record in state %s", ErrBadTransition, r.Status)
	}
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("record %s already exists", r.ID)
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.records[r.ID] = *r
	return nil
}

func (m *MemoryStore) MarkPublishing(_ context.Context, id string) error {
	return m.update(id, func(r *PublishRecord) error {
		if r.Status != StatusScheduled && r.Status != StatusPending {
			return ErrBadTransition
		}
		r.Status = StatusPublishing
		return nil
	})
}

func (m *MemoryStore) MarkSuccess(_ context.Context, id string, itemID, itemURL, statusText string, attempts int) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: SUCCESS requires a platform item id", ErrBadTransition)
	}
	return m.update(id, func(r *PublishRecord) error {
		if r.Status != StatusPublishing {
			return ErrBadTransition
		}
		r.Status = StatusSuccess
		r.PlatformItemID = itemID
		r.PlatformItemURL = itemURL
		r.PlatformStatusText = statusText
		r.Attempts = attempts
		r.ErrorMessage = ""
		r.PublishedAt = time.Now()
		return nil
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, errMsg string, attempts int) error {
	return m.update(id, func(r *PublishRecord) error {
		if r.Status != StatusPublishing {
			return ErrBadTransition
		}
		r.Status = StatusFailed
		r.ErrorMessage = errMsg
		r.Attempts = attempts
		return nil
	})
}

func (m *MemoryStore) CancelScheduled(_ context.Context, id string) error {
	return m.update(id, func(r *PublishRecord) error {
		if r.Status != StatusScheduled {
			return ErrBadTransition
		}
		r.Status = StatusCancelled
		return nil
	})
}

func (m *MemoryStore) UpdateStats(_ context.Context, id string, views, likes, comments int64) error {
	return m.update(id, func(r *PublishRecord) error {
		if r.Status != StatusSuccess {
			return ErrNotFound
		}
		r.Views = views
		r.Likes = likes
		r.Comments = comments
		return nil
	})
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (PublishRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return PublishRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) ListByBatch(_ context.Context, batchID string) ([]PublishRecord, error) {
	return m.filter(func(r PublishRecord) bool { return r.BatchID == batchID }), nil
}

func (m *MemoryStore) ListByArticle(_ context.Context, articleID int64) ([]PublishRecord, error) {
	return m.filter(func(r PublishRecord) bool { return r.ArticleID == articleID }), nil
}

func (m *MemoryStore) ListReconcilable(_ context.Context, q ReconcileQuery) ([]PublishRecord, error) {
	return m.filter(func(r PublishRecord) bool {
		if r.Status != StatusSuccess || r.PlatformItemID == "" {
			return false
		}
		if q.ArticleID != 0 && r.ArticleID != q.ArticleID {
			return false
		}
		if q.Target != "" && r.Target != q.Target {
			return false
		}
		if !q.Since.IsZero() && r.PublishedAt.Before(q.Since) {
			return false
		}
		return true
	}), nil
}

func (m *MemoryStore) update(id string, fn func(*PublishRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now()
	m.records[id] = r
	return nil
}

func (m *MemoryStore) filter(keep func(PublishRecord) bool) []PublishRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Target < out[j].Target
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
