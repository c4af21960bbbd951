package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/eventbus"
	"crosspost/internal/publisher"
	"crosspost/internal/schedule"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

const defaultSnapshotChars = 2000

type Options struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// RetryDelay applies when the platform gave no retry-after hint.
	RetryDelay time.Duration
	// SnapshotChars bounds the per-record content audit snapshot.
	SnapshotChars int
}

func (o *Options) normalize() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.SnapshotChars <= 0 {
		o.SnapshotChars = defaultSnapshotChars
	}
}

// Dispatcher coordinates publishing one article to many targets.
// It reads the publisher registry through the holder so a config
// reload mid-batch never affects dispatches already in flight.
type Dispatcher struct {
	store storage.Store
	reg   *publisher.Holder
	sched *schedule.Service
	bus   eventbus.Bus
	log   logx.Logger
	opt   Options
}

func New(store storage.Store, reg *publisher.Holder, sched *schedule.Service, bus eventbus.Bus, log logx.Logger, opt Options) *Dispatcher {
	opt.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{store: store, reg: reg, sched: sched, bus: bus, log: log, opt: opt}
}

// DispatchOne publishes the article to a single target and returns the
// settled record.
func (d *Dispatcher) DispatchOne(ctx context.Context, a publisher.Article, target publisher.Target) (storage.PublishRecord, error) {
	reg := d.reg.Current()
	pub, err := reg.Get(target)
	if err != nil {
		return storage.PublishRecord{}, err
	}

	rec := d.newRecord(a, target, "", storage.StatusPublishing)
	if err := d.store.CreateRecord(ctx, rec); err != nil {
		return storage.PublishRecord{}, fmt.Errorf("create record: %w", err)
	}

	d.runAndFinalize(ctx, pub, a, rec.ID)
	return d.store.GetRecord(ctx, rec.ID)
}

// DispatchBatch publishes the article to every named target
// concurrently and aggregates the outcomes into a batch once all
// targets have settled.
func (d *Dispatcher) DispatchBatch(ctx context.Context, a publisher.Article, targets []publisher.Target, name string) (storage.PublishBatch, error) {
	if len(targets) == 0 {
		return storage.PublishBatch{}, fmt.Errorf("no targets")
	}
	reg := d.reg.Current()

	batch := &storage.PublishBatch{
		ID:         uuid.NewString(),
		Name:       name,
		ArticleID:  a.ID,
		Targets:    targetIDs(targets),
		TotalCount: len(targets),
	}
	if err := d.store.CreateBatch(ctx, batch); err != nil {
		return storage.PublishBatch{}, fmt.Errorf("create batch: %w", err)
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		rec := d.newRecord(a, target, batch.ID, storage.StatusPublishing)
		if err := d.store.CreateRecord(ctx, rec); err != nil {
			d.log.Error("create record", logx.String("target", string(target)), logx.Err(err))
			continue
		}

		wg.Add(1)
		go func(target publisher.Target, recID string) {
			defer wg.Done()
			pub, err := reg.Get(target)
			if err != nil {
				d.finalize(ctx, recID, publisher.Failed(target, publisher.CodeInternal, err.Error()), 0, a.ID)
				return
			}
			d.runAndFinalize(ctx, pub, a, recID)
		}(target, rec.ID)
	}
	wg.Wait()

	return d.settleBatch(ctx, batch.ID, a.ID)
}

// ScheduleBatch creates SCHEDULED records for every target and arms a
// one-shot trigger per record. Until the trigger fires the record can be
// cancelled with CancelScheduled.
func (d *Dispatcher) ScheduleBatch(ctx context.Context, a publisher.Article, targets []publisher.Target, name string, due time.Time) (storage.PublishBatch, error) {
	if len(targets) == 0 {
		return storage.PublishBatch{}, fmt.Errorf("no targets")
	}
	if d.sched == nil {
		return storage.PublishBatch{}, fmt.Errorf("scheduling not available")
	}

	batch := &storage.PublishBatch{
		ID:         uuid.NewString(),
		Name:       name,
		ArticleID:  a.ID,
		Targets:    targetIDs(targets),
		TotalCount: len(targets),
	}
	if err := d.store.CreateBatch(ctx, batch); err != nil {
		return storage.PublishBatch{}, fmt.Errorf("create batch: %w", err)
	}

	// The article is snapshotted now; edits after scheduling do not
	// change what gets published.
	frozen := a.Clone()

	for _, target := range targets {
		rec := d.newRecord(a, target, batch.ID, storage.StatusScheduled)
		rec.ScheduledAt = due
		if err := d.store.CreateRecord(ctx, rec); err != nil {
			return storage.PublishBatch{}, fmt.Errorf("create record for %s: %w", target, err)
		}

		target := target
		recID := rec.ID
		err := d.sched.At(recID, "publish:"+string(target), due, func(jobCtx context.Context) error {
			d.fireScheduled(jobCtx, frozen, target, recID, batch.ID)
			return nil
		})
		if err != nil {
			return storage.PublishBatch{}, fmt.Errorf("arm trigger for %s: %w", target, err)
		}
	}
	return d.store.GetBatch(ctx, batch.ID)
}

// CancelScheduled disarms a pending scheduled record. Records that
// already started publishing cannot be cancelled.
func (d *Dispatcher) CancelScheduled(ctx context.Context, recordID string) error {
	rec, err := d.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if err := d.store.CancelScheduled(ctx, recordID); err != nil {
		return err
	}
	if d.sched != nil {
		d.sched.Cancel(recordID)
	}
	d.log.Info("scheduled publish cancelled",
		logx.String("record", recordID),
		logx.String("target", rec.Target))
	if rec.BatchID != "" {
		_, _ = d.settleBatch(ctx, rec.BatchID, rec.ArticleID)
	}
	return nil
}

func (d *Dispatcher) fireScheduled(ctx context.Context, a publisher.Article, target publisher.Target, recID, batchID string) {
	if err := d.store.MarkPublishing(ctx, recID); err != nil {
		// Cancelled (or already handled) between arming and firing.
		d.log.Debug("scheduled record not runnable", logx.String("record", recID), logx.Err(err))
		return
	}

	pub, err := d.reg.Current().Get(target)
	if err != nil {
		d.finalize(ctx, recID, publisher.Failed(target, publisher.CodeInternal, err.Error()), 0, a.ID)
	} else {
		d.runAndFinalize(ctx, pub, a, recID)
	}
	_, _ = d.settleBatch(ctx, batchID, a.ID)
}

func (d *Dispatcher) runAndFinalize(ctx context.Context, pub publisher.Publisher, a publisher.Article, recID string) {
	out, attempts := d.publishWithRetry(ctx, pub, a)
	d.finalize(ctx, recID, out, attempts, a.ID)
}

func (d *Dispatcher) finalize(ctx context.Context, recID string, out publisher.Outcome, attempts int, articleID int64) {
	if out.Success {
		if err := d.store.MarkSuccess(ctx, recID, out.PlatformItemID, out.PlatformItemURL, out.Message, attempts); err != nil {
			d.log.Error("mark success", logx.String("record", recID), logx.Err(err))
			return
		}
		d.log.Info("published",
			logx.String("record", recID),
			logx.String("target", string(out.Target)),
			logx.String("item", out.PlatformItemID),
			logx.Int("attempts", attempts))
		if d.bus != nil {
			d.bus.Publish(eventbus.RecordPublished(eventbus.RecordEvent{
				RecordID:  recID,
				ArticleID: articleID,
				Target:    string(out.Target),
				ItemURL:   out.PlatformItemURL,
				Attempts:  attempts,
			}))
		}
		return
	}

	msg := out.Message
	if out.ErrorCode != "" {
		msg = out.ErrorCode + ": " + out.Message
	}
	if err := d.store.MarkFailed(ctx, recID, msg, attempts); err != nil {
		d.log.Error("mark failed", logx.String("record", recID), logx.Err(err))
		return
	}
	d.log.Warn("publish failed",
		logx.String("record", recID),
		logx.String("target", string(out.Target)),
		logx.String("code", out.ErrorCode),
		logx.Int("attempts", attempts),
		logx.String("reason", out.Message))
	if d.bus != nil {
		d.bus.Publish(eventbus.RecordFailed(eventbus.RecordEvent{
			RecordID:  recID,
			ArticleID: articleID,
			Target:    string(out.Target),
			Attempts:  attempts,
			Error:     msg,
		}))
	}
}

// settleBatch recomputes batch counts and closes the batch once no
// record is still pending. Safe to call repeatedly: only the first
// caller that observes full settlement completes the batch.
func (d *Dispatcher) settleBatch(ctx context.Context, batchID string, articleID int64) (storage.PublishBatch, error) {
	recs, err := d.store.ListByBatch(ctx, batchID)
	if err != nil {
		return storage.PublishBatch{}, err
	}
	b, err := d.store.GetBatch(ctx, batchID)
	if err != nil {
		return storage.PublishBatch{}, err
	}

	var success, failed int
	for _, r := range recs {
		switch r.Status {
		case storage.StatusSuccess:
			success++
		case storage.StatusFailed, storage.StatusCancelled:
			failed++
		default:
			// Still in flight; leave the batch open.
			return b, nil
		}
	}
	// A target whose record never got created (store error during
	// fan-out) still owes the batch a failed leg, keeping
	// success+failed == total.
	if missing := b.TotalCount - len(recs); missing > 0 {
		failed += missing
	}

	status := storage.BatchPartial
	switch {
	case failed == 0:
		status = storage.BatchSuccess
	case success == 0:
		status = storage.BatchFailed
	}

	err = d.store.CompleteBatch(ctx, batchID, status, success, failed)
	if err == nil {
		d.log.Info("batch completed",
			logx.String("batch", batchID),
			logx.String("status", string(status)),
			logx.Int("success", success),
			logx.Int("failed", failed))
		if d.bus != nil {
			d.bus.Publish(eventbus.BatchCompleted(eventbus.BatchEvent{
				BatchID:   batchID,
				ArticleID: articleID,
				Status:    string(status),
				Success:   success,
				Failed:    failed,
			}))
		}
	} else if !errors.Is(err, storage.ErrBadTransition) {
		return storage.PublishBatch{}, err
	}
	return d.store.GetBatch(ctx, batchID)
}

func (d *Dispatcher) newRecord(a publisher.Article, target publisher.Target, batchID string, status storage.Status) *storage.PublishRecord {
	return &storage.PublishRecord{
		ID:              uuid.NewString(),
		BatchID:         batchID,
		ArticleID:       a.ID,
		Target:          string(target),
		Status:          status,
		TitleSnapshot:   a.Title,
		ContentSnapshot: snapshot(a.Body, d.opt.SnapshotChars),
	}
}

func targetIDs(targets []publisher.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return out
}

func snapshot(body string, max int) string {
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max])
}
