package publisher

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	logx "crosspost/pkg/logx"
)

// Registry is an immutable snapshot of the configured, enabled
// publishers, keyed by target. It is rebuilt from scratch whenever
// target configuration changes; in-flight dispatches keep using the
// snapshot they looked up.
type Registry struct {
	pubs map[Target]Publisher
}

// NewRegistry builds a registry directly from publishers, bypassing the
// factory machinery. Handy for tests and fixed wirings.
func NewRegistry(pubs ...Publisher) *Registry {
	m := make(map[Target]Publisher, len(pubs))
	for _, p := range pubs {
		m[p.Target()] = p
	}
	return &Registry{pubs: m}
}

// Get returns the publisher for a target, or ErrNotConfigured.
func (r *Registry) Get(target Target) (Publisher, error) {
	if r == nil {
		return nil, fmt.Errorf("%s: %w", target, ErrNotConfigured)
	}
	p, ok := r.pubs[target]
	if !ok {
		return nil, fmt.Errorf("%s: %w", target, ErrNotConfigured)
	}
	return p, nil
}

// Targets returns the enabled target ids, sorted for stable output.
func (r *Registry) Targets() []Target {
	if r == nil {
		return nil
	}
	out := make([]Target, 0, len(r.pubs))
	for t := range r.pubs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of enabled publishers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.pubs)
}

// Builder assembles registries from registered factories. Factories are
// registered once at startup (main.go); Build is called on every config
// (re)load.
type Builder struct {
	mu        sync.Mutex
	factories map[Target]Factory
	log       logx.Logger
}

func NewBuilder(log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{factories: map[Target]Factory{}, log: log}
}

// Register adds factories. Last registration per target wins.
func (b *Builder) Register(fs ...Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range fs {
		b.factories[f.Target()] = f
	}
}

// Build constructs a fresh Registry from the enabled target configs.
// A target whose factory fails is skipped with a log line rather than
// failing the whole rebuild, so one bad credential blob can't take every
// other target offline.
func (b *Builder) Build(store ConfigStore, deps Deps) *Registry {
	b.mu.Lock()
	factories := make(map[Target]Factory, len(b.factories))
	for t, f := range b.factories {
		factories[t] = f
	}
	b.mu.Unlock()

	pubs := map[Target]Publisher{}
	for _, tc := range store.EnabledTargets() {
		f, ok := factories[tc.Target]
		if !ok {
			b.log.Warn("no factory for configured target", logx.String("target", string(tc.Target)))
			continue
		}
		p, err := f.New(tc, deps)
		if err != nil {
			b.log.Error("publisher construction failed",
				logx.String("target", string(tc.Target)), logx.Err(err))
			continue
		}
		pubs[tc.Target] = p
	}
	return &Registry{pubs: pubs}
}

// Holder publishes the current Registry to concurrent readers with
// copy-and-swap semantics. Never mutate a stored registry in place.
type Holder struct {
	v atomic.Value // stores *Registry
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	if r == nil {
		r = &Registry{pubs: map[Target]Publisher{}}
	}
	h.v.Store(r)
	return h
}

// Current returns the registry snapshot for this dispatch.
func (h *Holder) Current() *Registry {
	r, _ := h.v.Load().(*Registry)
	return r
}

// Swap replaces the registry. In-flight dispatches keep the old snapshot.
func (h *Holder) Swap(r *Registry) {
	if r == nil {
		r = &Registry{pubs: map[Target]Publisher{}}
	}
	h.v.Store(r)
}
