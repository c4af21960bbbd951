package reconcile

import (
	"context"
	"errors"
	"testing"

	"crosspost/internal/publisher"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

type statsPublisher struct {
	target publisher.Target
	stats  map[string]publisher.Stats
	err    error
}

func (p *statsPublisher) Target() publisher.Target             { return p.target }
func (p *statsPublisher) Capabilities() publisher.Capabilities { return publisher.Capabilities{} }
func (p *statsPublisher) Login(context.Context) error          { return nil }
func (p *statsPublisher) LoggedIn(context.Context) bool        { return true }
func (p *statsPublisher) Validate(publisher.Article) error     { return nil }
func (p *statsPublisher) Convert(_ context.Context, a publisher.Article) (publisher.Article, error) {
	return a, nil
}
func (p *statsPublisher) Publish(context.Context, publisher.Article) publisher.Outcome {
	return publisher.Failed(p.target, publisher.CodeInternal, "not under test")
}
func (p *statsPublisher) FetchStats(_ context.Context, itemID string) (publisher.Stats, bool, error) {
	if p.err != nil {
		return publisher.Stats{}, false, p.err
	}
	s, ok := p.stats[itemID]
	return s, ok, nil
}

func seedSuccess(t *testing.T, st storage.Store, id, target, itemID string, articleID int64) {
	t.Helper()
	ctx := context.Background()
	rec := &storage.PublishRecord{ID: id, ArticleID: articleID, Target: target, Status: storage.StatusPublishing}
	if err := st.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.MarkSuccess(ctx, id, itemID, "", "", 1); err != nil {
		t.Fatalf("success: %v", err)
	}
}

func TestReconcileUpdatesCounters(t *testing.T) {
	st := storage.NewMemory()
	seedSuccess(t, st, "r1", "devto", "item-1", 7)
	seedSuccess(t, st, "r2", "devto", "item-2", 7)

	pub := &statsPublisher{
		target: publisher.TargetDevto,
		stats: map[string]publisher.Stats{
			"item-1": {Views: 120, Likes: 12, Comments: 3},
			// item-2 deleted on the platform
		},
	}
	holder := publisher.NewHolder(publisher.NewRegistry(pub))
	r := New(st, holder, nil, logx.Nop())

	sum, err := r.ReconcileArticle(context.Background(), 7)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if sum.Scanned != 2 || sum.Updated != 1 || sum.Absent != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	got, _ := st.GetRecord(context.Background(), "r1")
	if got.Views != 120 || got.Likes != 12 || got.Comments != 3 {
		t.Fatalf("counters not updated: %+v", got)
	}

	// Absent item: status and old counters untouched.
	gone, _ := st.GetRecord(context.Background(), "r2")
	if gone.Status != storage.StatusSuccess || gone.Views != 0 {
		t.Fatalf("absent item mutated the record: %+v", gone)
	}
}

func TestFetchErrorNeverFlipsStatus(t *testing.T) {
	st := storage.NewMemory()
	seedSuccess(t, st, "r1", "devto", "item-1", 1)

	pub := &statsPublisher{target: publisher.TargetDevto, err: errors.New("rate limited")}
	holder := publisher.NewHolder(publisher.NewRegistry(pub))
	r := New(st, holder, nil, logx.Nop())

	sum, err := r.ReconcileTarget(context.Background(), publisher.TargetDevto)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if sum.Errors != 1 || sum.Updated != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	got, _ := st.GetRecord(context.Background(), "r1")
	if got.Status != storage.StatusSuccess {
		t.Fatalf("fetch error changed status to %s", got.Status)
	}
}

func TestLastWriteWins(t *testing.T) {
	st := storage.NewMemory()
	seedSuccess(t, st, "r1", "devto", "item-1", 1)

	pub := &statsPublisher{
		target: publisher.TargetDevto,
		stats:  map[string]publisher.Stats{"item-1": {Views: 100}},
	}
	holder := publisher.NewHolder(publisher.NewRegistry(pub))
	r := New(st, holder, nil, logx.Nop())

	if _, err := r.Sweep(context.Background(), 0); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	// Platform later reports fewer views (e.g. spam filtering); we take
	// the platform's number as-is.
	pub.stats["item-1"] = publisher.Stats{Views: 90, Likes: 5}
	if _, err := r.Sweep(context.Background(), 0); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}

	got, _ := st.GetRecord(context.Background(), "r1")
	if got.Views != 90 || got.Likes != 5 {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}
