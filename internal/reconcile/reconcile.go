// Package reconcile pulls engagement counters back from the platforms
// and overwrites the stored numbers last-write-wins. Reconciliation is
// read-only with respect to publish state: a deleted platform item or a
// fetch error never changes a record's status.
package reconcile

import (
	"context"
	"time"

	"crosspost/internal/eventbus"
	"crosspost/internal/publisher"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// Summary reports what one reconciliation pass touched.
type Summary struct {
	Scanned int
	Updated int
	Absent  int
	Errors  int
}

type Reconciler struct {
	store storage.Store
	reg   *publisher.Holder
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, reg *publisher.Holder, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, reg: reg, bus: bus, log: log}
}

// ReconcileArticle refreshes stats for every successful publish of one
// article.
func (r *Reconciler) ReconcileArticle(ctx context.Context, articleID int64) (Summary, error) {
	return r.run(ctx, storage.ReconcileQuery{ArticleID: articleID})
}

// ReconcileTarget refreshes stats for every successful publish to one
// target.
func (r *Reconciler) ReconcileTarget(ctx context.Context, target publisher.Target) (Summary, error) {
	return r.run(ctx, storage.ReconcileQuery{Target: string(target)})
}

// Sweep refreshes stats for records published within the window. A zero
// window means everything.
func (r *Reconciler) Sweep(ctx context.Context, window time.Duration) (Summary, error) {
	q := storage.ReconcileQuery{}
	if window > 0 {
		q.Since = time.Now().Add(-window)
	}
	return r.run(ctx, q)
}

func (r *Reconciler) run(ctx context.Context, q storage.ReconcileQuery) (Summary, error) {
	recs, err := r.store.ListReconcilable(ctx, q)
	if err != nil {
		return Summary{}, err
	}

	reg := r.reg.Current()
	var sum Summary
	for _, rec := range recs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Scanned++
		r.reconcileRecord(ctx, reg, rec, &sum)
	}

	r.log.Info("stats reconciled",
		logx.Int("scanned", sum.Scanned),
		logx.Int("updated", sum.Updated),
		logx.Int("absent", sum.Absent),
		logx.Int("errors", sum.Errors))
	return sum, nil
}

func (r *Reconciler) reconcileRecord(ctx context.Context, reg *publisher.Registry, rec storage.PublishRecord, sum *Summary) {
	pub, err := reg.Get(publisher.Target(rec.Target))
	if err != nil {
		// Target disabled since the publish; counters stay as they were.
		sum.Errors++
		r.log.Debug("skipping record of unconfigured target",
			logx.String("record", rec.ID), logx.String("target", rec.Target))
		return
	}

	stats, ok, err := pub.FetchStats(ctx, rec.PlatformItemID)
	if err != nil {
		sum.Errors++
		r.log.Warn("stats fetch failed",
			logx.String("record", rec.ID),
			logx.String("target", rec.Target),
			logx.Err(err))
		return
	}
	if !ok {
		// Item gone (or the platform exposes no counters). Keep the last
		// known numbers and the SUCCESS status.
		sum.Absent++
		r.log.Debug("platform item absent",
			logx.String("record", rec.ID),
			logx.String("target", rec.Target),
			logx.String("item", rec.PlatformItemID))
		return
	}

	if err := r.store.UpdateStats(ctx, rec.ID, stats.Views, stats.Likes, stats.Comments); err != nil {
		sum.Errors++
		r.log.Warn("stats write failed", logx.String("record", rec.ID), logx.Err(err))
		return
	}
	sum.Updated++
	if r.bus != nil {
		r.bus.Publish(eventbus.StatsReconciled(eventbus.StatsEvent{
			RecordID: rec.ID,
			Target:   rec.Target,
			Views:    stats.Views,
			Likes:    stats.Likes,
			Comments: stats.Comments,
		}))
	}
}
