package app

import (
	"context"

	"crosspost/internal/eventbus"
	logx "crosspost/pkg/logx"
)

// auditLoop writes one structured log line per pipeline event, giving
// operators a single place to tail the publish lifecycle regardless of
// which component produced it.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	log := a.log.With(logx.String("comp", "audit"))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch data := e.Data.(type) {
			case eventbus.RecordEvent:
				if e.Type == eventbus.TypeRecordFailed {
					log.Warn("publish failed",
						logx.String("record", data.RecordID),
						logx.String("target", data.Target),
						logx.Int("attempts", data.Attempts),
						logx.String("error", data.Error))
					continue
				}
				log.Info("published",
					logx.String("record", data.RecordID),
					logx.String("target", data.Target),
					logx.String("url", data.ItemURL),
					logx.Int("attempts", data.Attempts))
			case eventbus.BatchEvent:
				log.Info("batch completed",
					logx.String("batch", data.BatchID),
					logx.String("status", data.Status),
					logx.Int("success", data.Success),
					logx.Int("failed", data.Failed))
			case eventbus.StatsEvent:
				log.Debug("stats reconciled",
					logx.String("record", data.RecordID),
					logx.String("target", data.Target),
					logx.Int64("views", data.Views))
			default:
				log.Debug("event", logx.String("type", e.Type))
			}
		}
	}
}
