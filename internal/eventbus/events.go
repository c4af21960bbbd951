package eventbus

import "time"

// Event types emitted by the publish pipeline.
const (
	TypeRecordPublished = "record.published"
	TypeRecordFailed    = "record.failed"
	TypeBatchCompleted  = "batch.completed"
	TypeStatsReconciled = "stats.reconciled"
	TypeConfigReloaded  = "config.reloaded"
)

// RecordEvent is the payload for record.published and record.failed.
type RecordEvent struct {
	RecordID  string
	ArticleID int64
	Target    string
	ItemURL   string
	Attempts  int
	Error     string
}

// BatchEvent is the payload for batch.completed.
type BatchEvent struct {
	BatchID   string
	ArticleID int64
	Status    string
	Success   int
	Failed    int
}

// ReloadEvent is the payload for config.reloaded.
type ReloadEvent struct {
	Sections []string
	Targets  []string
}

// StatsEvent is the payload for stats.reconciled.
type StatsEvent struct {
	RecordID string
	Target   string
	Views    int64
	Likes    int64
	Comments int64
}

func RecordPublished(data RecordEvent) Event {
	return Event{Type: TypeRecordPublished, Time: time.Now(), Data: data}
}

func RecordFailed(data RecordEvent) Event {
	return Event{Type: TypeRecordFailed, Time: time.Now(), Data: data}
}

func BatchCompleted(data BatchEvent) Event {
	return Event{Type: TypeBatchCompleted, Time: time.Now(), Data: data}
}

func StatsReconciled(data StatsEvent) Event {
	return Event{Type: TypeStatsReconciled, Time: time.Now(), Data: data}
}

func ConfigReloaded(data ReloadEvent) Event {
	return Event{Type: TypeConfigReloaded, Time: time.Now(), Data: data}
}
