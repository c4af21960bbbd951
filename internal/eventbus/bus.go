package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal flowing out of the publish pipeline:
// a record finishing, a batch settling, stats landing from a platform,
// a config reload taking effect. Producers (dispatcher, reconciler,
// app) stay decoupled from whoever tails the stream.
//
// Contract:
//   - Publish MUST be non-blocking; dispatch latency never waits on a
//     listener.
//   - Subscribers MUST use buffered channels; a slow subscriber drops
//     events rather than stalling a publish.
//
// Data carries one of the payload types in events.go.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory fanout bus used process-wide. It owns no
// background goroutines; delivery happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Best-effort, non-blocking send. A concurrent unsubscribe can
		// close the channel mid-send; the recover absorbs that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
