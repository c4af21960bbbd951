package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/internal/publisher"
	"crosspost/internal/schedule"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// fakePublisher scripts one target's behavior per call.
type fakePublisher struct {
	target   publisher.Target
	caps     publisher.Capabilities
	loggedIn bool
	loginErr error

	validateErr error
	publishFn   func(attempt int) publisher.Outcome

	loginCalls    atomic.Int32
	validateCalls atomic.Int32
	publishCalls  atomic.Int32
}

func (f *fakePublisher) Target() publisher.Target             { return f.target }
func (f *fakePublisher) Capabilities() publisher.Capabilities { return f.caps }

func (f *fakePublisher) Login(context.Context) error {
	f.loginCalls.Add(1)
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakePublisher) LoggedIn(context.Context) bool { return f.loggedIn }

func (f *fakePublisher) Validate(publisher.Article) error {
	f.validateCalls.Add(1)
	return f.validateErr
}

func (f *fakePublisher) Convert(_ context.Context, a publisher.Article) (publisher.Article, error) {
	return a, nil
}

func (f *fakePublisher) Publish(context.Context, publisher.Article) publisher.Outcome {
	n := int(f.publishCalls.Add(1))
	return f.publishFn(n)
}

func (f *fakePublisher) FetchStats(context.Context, string) (publisher.Stats, bool, error) {
	return publisher.Stats{}, false, nil
}

func alwaysOK(f *fakePublisher) {
	f.publishFn = func(int) publisher.Outcome {
		return publisher.Published(f.target, "item-1", "https://example.com/item-1", "ok")
	}
}

func newDispatcher(t *testing.T, opt Options, pubs ...publisher.Publisher) (*Dispatcher, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemory()
	holder := publisher.NewHolder(publisher.NewRegistry(pubs...))
	return New(st, holder, nil, nil, logx.Nop(), opt), st
}

func article() publisher.Article {
	return publisher.Article{ID: 42, Title: "Go 1.24 release notes", Body: "<p>hi</p>", Format: publisher.FormatRich}
}

func TestRetryBoundOnTransientFailure(t *testing.T) {
	f := &fakePublisher{target: publisher.TargetDevto}
	f.publishFn = func(int) publisher.Outcome {
		return publisher.Retryable(f.target, publisher.CodeNetwork, "timeout", 0)
	}

	d, _ := newDispatcher(t, Options{MaxRetries: 2, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetDevto)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := f.publishCalls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 publish attempts, got %d", got)
	}
	if rec.Status != storage.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if rec.Attempts != 3 {
		t.Fatalf("expected attempts=3, got %d", rec.Attempts)
	}
	if rec.PlatformItemID != "" {
		t.Fatalf("failed record must not carry a platform item id")
	}
}

func TestSuccessOnSecondAttempt(t *testing.T) {
	f := &fakePublisher{target: publisher.TargetDevto}
	f.publishFn = func(attempt int) publisher.Outcome {
		if attempt == 1 {
			return publisher.Retryable(f.target, publisher.CodeNetwork, "flaky", time.Millisecond)
		}
		return publisher.Published(f.target, "item-7", "https://dev.to/x/item-7", "ok")
	}

	d, _ := newDispatcher(t, Options{MaxRetries: 2, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetDevto)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.Status != storage.StatusSuccess || rec.PlatformItemID != "item-7" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", rec.Attempts)
	}
}

func TestValidationShortCircuits(t *testing.T) {
	f := &fakePublisher{target: publisher.TargetDevto, validateErr: errors.New("title too long")}
	alwaysOK(f)

	d, _ := newDispatcher(t, Options{MaxRetries: 3, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetDevto)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := f.publishCalls.Load(); got != 0 {
		t.Fatalf("expected 0 publish calls after validation failure, got %d", got)
	}
	if rec.Status != storage.StatusFailed || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLoginFailureIsTerminal(t *testing.T) {
	f := &fakePublisher{
		target:   publisher.TargetMedium,
		caps:     publisher.Capabilities{RequiresLogin: true},
		loginErr: errors.New("bad credentials"),
	}
	alwaysOK(f)

	d, _ := newDispatcher(t, Options{MaxRetries: 3, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetMedium)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := f.loginCalls.Load(); got != 1 {
		t.Fatalf("expected a single login attempt, got %d", got)
	}
	if f.publishCalls.Load() != 0 {
		t.Fatalf("must not publish after failed login")
	}
	if rec.Status != storage.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
}

func TestAuthFailureRetriedOnceViaRelogin(t *testing.T) {
	f := &fakePublisher{
		target:   publisher.TargetWordPress,
		caps:     publisher.Capabilities{RequiresLogin: true},
		loggedIn: true,
	}
	f.publishFn = func(attempt int) publisher.Outcome {
		if attempt == 1 {
			// Session expired mid-flight; adapter drops its login flag.
			f.loggedIn = false
			return publisher.Retryable(f.target, publisher.CodeAuth, "HTTP 401", 0)
		}
		return publisher.Published(f.target, "post-9", "https://blog.example/post-9", "publish")
	}

	// MaxRetries 0: the re-login retry is granted outside the
	// transient budget.
	d, _ := newDispatcher(t, Options{MaxRetries: 0, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetWordPress)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.Status != storage.StatusSuccess || rec.Attempts != 2 {
		t.Fatalf("expected SUCCESS after re-login, got %+v", rec)
	}
	if got := f.loginCalls.Load(); got != 1 {
		t.Fatalf("expected one re-login, got %d", got)
	}
}

func TestAuthFailureTerminalOnRecurrence(t *testing.T) {
	f := &fakePublisher{
		target:   publisher.TargetWordPress,
		caps:     publisher.Capabilities{RequiresLogin: true},
		loggedIn: true,
	}
	f.publishFn = func(int) publisher.Outcome {
		f.loggedIn = false
		return publisher.Retryable(f.target, publisher.CodeAuth, "HTTP 401", 0)
	}

	d, _ := newDispatcher(t, Options{MaxRetries: 3, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetWordPress)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := f.publishCalls.Load(); got != 2 {
		t.Fatalf("a second auth failure must end the loop, got %d publishes", got)
	}
	if rec.Status != storage.StatusFailed || rec.Attempts != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPanicCountsAsRetryableAttempt(t *testing.T) {
	f := &fakePublisher{target: publisher.TargetDevto}
	f.publishFn = func(attempt int) publisher.Outcome {
		if attempt == 1 {
			panic("adapter bug")
		}
		return publisher.Published(f.target, "item-2", "", "ok")
	}

	d, _ := newDispatcher(t, Options{MaxRetries: 1, RetryDelay: time.Millisecond}, f)
	rec, err := d.DispatchOne(context.Background(), article(), publisher.TargetDevto)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.Status != storage.StatusSuccess || rec.Attempts != 2 {
		t.Fatalf("expected recovery on second attempt, got %+v", rec)
	}
}

func TestBatchAggregationPartial(t *testing.T) {
	ok1 := &fakePublisher{target: publisher.TargetDevto}
	alwaysOK(ok1)
	ok2 := &fakePublisher{target: publisher.TargetTelegram}
	alwaysOK(ok2)
	bad := &fakePublisher{target: publisher.TargetWordPress}
	bad.publishFn = func(int) publisher.Outcome {
		return publisher.Failed(bad.target, publisher.CodeRejected, "duplicate slug")
	}

	d, st := newDispatcher(t, Options{MaxRetries: 0, RetryDelay: time.Millisecond}, ok1, ok2, bad)
	targets := []publisher.Target{publisher.TargetDevto, publisher.TargetTelegram, publisher.TargetWordPress}
	batch, err := d.DispatchBatch(context.Background(), article(), targets, "release announce")
	if err != nil {
		t.Fatalf("dispatch batch: %v", err)
	}

	if batch.Status != storage.BatchPartial {
		t.Fatalf("expected PARTIAL, got %s", batch.Status)
	}
	if batch.SuccessCount != 2 || batch.FailedCount != 1 {
		t.Fatalf("unexpected counts: %+v", batch)
	}
	if batch.CompletedAt.IsZero() {
		t.Fatalf("expected completed batch")
	}

	recs, err := st.ListByBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for _, r := range recs {
		if !r.Status.Terminal() {
			t.Fatalf("record %s not settled: %s", r.Target, r.Status)
		}
	}
}

func TestBatchAllFailed(t *testing.T) {
	bad := &fakePublisher{target: publisher.TargetDevto}
	bad.publishFn = func(int) publisher.Outcome {
		return publisher.Failed(bad.target, publisher.CodeAuth, "expired token")
	}

	d, _ := newDispatcher(t, Options{MaxRetries: 0, RetryDelay: time.Millisecond}, bad)
	batch, err := d.DispatchBatch(context.Background(), article(), []publisher.Target{publisher.TargetDevto}, "")
	if err != nil {
		t.Fatalf("dispatch batch: %v", err)
	}
	if batch.Status != storage.BatchFailed {
		t.Fatalf("expected FAILED, got %s", batch.Status)
	}
}

func TestUnconfiguredTargetFailsRecordNotBatch(t *testing.T) {
	ok := &fakePublisher{target: publisher.TargetDevto}
	alwaysOK(ok)

	d, _ := newDispatcher(t, Options{MaxRetries: 0, RetryDelay: time.Millisecond}, ok)
	targets := []publisher.Target{publisher.TargetDevto, publisher.TargetMedium}
	batch, err := d.DispatchBatch(context.Background(), article(), targets, "")
	if err != nil {
		t.Fatalf("dispatch batch: %v", err)
	}
	if batch.Status != storage.BatchPartial || batch.SuccessCount != 1 || batch.FailedCount != 1 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

// failingRecordStore drops record creation for one target, simulating a
// store error mid fan-out.
type failingRecordStore struct {
	*storage.MemoryStore
	failTarget publisher.Target
}

func (s *failingRecordStore) CreateRecord(ctx context.Context, r *storage.PublishRecord) error {
	if r.Target == string(s.failTarget) {
		return errors.New("disk full")
	}
	return s.MemoryStore.CreateRecord(ctx, r)
}

func TestBatchCountsRecordCreationFailure(t *testing.T) {
	ok := &fakePublisher{target: publisher.TargetDevto}
	alwaysOK(ok)
	other := &fakePublisher{target: publisher.TargetTelegram}
	alwaysOK(other)

	st := &failingRecordStore{MemoryStore: storage.NewMemory(), failTarget: publisher.TargetTelegram}
	holder := publisher.NewHolder(publisher.NewRegistry(ok, other))
	d := New(st, holder, nil, nil, logx.Nop(), Options{MaxRetries: 0, RetryDelay: time.Millisecond})

	targets := []publisher.Target{publisher.TargetDevto, publisher.TargetTelegram}
	batch, err := d.DispatchBatch(context.Background(), article(), targets, "")
	if err != nil {
		t.Fatalf("dispatch batch: %v", err)
	}
	if batch.Status != storage.BatchPartial {
		t.Fatalf("expected PARTIAL, got %s", batch.Status)
	}
	if batch.SuccessCount+batch.FailedCount != batch.TotalCount {
		t.Fatalf("counts must add up to total: %+v", batch)
	}
	if batch.SuccessCount != 1 || batch.FailedCount != 1 {
		t.Fatalf("unexpected counts: %+v", batch)
	}
}

func TestDispatchOneUnknownTarget(t *testing.T) {
	d, _ := newDispatcher(t, Options{})
	_, err := d.DispatchOne(context.Background(), article(), publisher.TargetDevto)
	if !errors.Is(err, publisher.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestScheduleAndCancel(t *testing.T) {
	ok := &fakePublisher{target: publisher.TargetDevto}
	alwaysOK(ok)

	st := storage.NewMemory()
	holder := publisher.NewHolder(publisher.NewRegistry(ok))
	sched := schedule.New(schedule.Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	d := New(st, holder, sched, nil, logx.Nop(), Options{RetryDelay: time.Millisecond})

	batch, err := d.ScheduleBatch(ctx, article(), []publisher.Target{publisher.TargetDevto}, "later", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	recs, _ := st.ListByBatch(ctx, batch.ID)
	if len(recs) != 1 || recs[0].Status != storage.StatusScheduled {
		t.Fatalf("expected one SCHEDULED record, got %+v", recs)
	}

	if err := d.CancelScheduled(ctx, recs[0].ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rec, _ := st.GetRecord(ctx, recs[0].ID)
	if rec.Status != storage.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", rec.Status)
	}
	if ok.publishCalls.Load() != 0 {
		t.Fatalf("cancelled record must never publish")
	}

	got, _ := st.GetBatch(ctx, batch.ID)
	if got.Status != storage.BatchFailed {
		t.Fatalf("expected all-cancelled batch to settle FAILED, got %s", got.Status)
	}
}

func TestScheduledFires(t *testing.T) {
	ok := &fakePublisher{target: publisher.TargetDevto}
	alwaysOK(ok)

	st := storage.NewMemory()
	holder := publisher.NewHolder(publisher.NewRegistry(ok))
	sched := schedule.New(schedule.Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	d := New(st, holder, sched, nil, logx.Nop(), Options{RetryDelay: time.Millisecond})

	batch, err := d.ScheduleBatch(ctx, article(), []publisher.Target{publisher.TargetDevto}, "soon", time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.GetBatch(ctx, batch.ID)
		if err != nil {
			t.Fatalf("get batch: %v", err)
		}
		if got.Status != storage.BatchRunning {
			if got.Status != storage.BatchSuccess || got.SuccessCount != 1 {
				t.Fatalf("unexpected settled batch: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled publish never settled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
