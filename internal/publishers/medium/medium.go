// Package medium is a stub target. Medium retired its public write API,
// so the adapter validates and converts like any other target but
// reports a distinct not_implemented outcome instead of publishing.
// Keeping it registered makes records auditable: a batch that includes
// medium shows exactly why that leg failed.
package medium

import (
	"context"

	"crosspost/internal/publisher"
	"crosspost/internal/publishers/pubkit"
)

var caps = publisher.Capabilities{
	DisplayName: "Medium",
	RichMarkup:  true,
	// Medium cuts titles at 100 characters; we reject rather than
	// silently truncate.
	MaxTitleLen:   100,
	TruncateTitle: false,
}

type Publisher struct {
	pubkit.Base
}

func New(cfg publisher.TargetConfig, deps publisher.Deps) (*Publisher, error) {
	p := &Publisher{}
	p.InitBase(publisher.TargetMedium, caps, cfg, deps)
	return p, nil
}

func (p *Publisher) Publish(context.Context, publisher.Article) publisher.Outcome {
	return publisher.NotImplemented(p.Target(), "publish")
}

// FetchStats reports the stub explicitly instead of pretending the item
// was deleted on the platform side.
func (p *Publisher) FetchStats(context.Context, string) (publisher.Stats, bool, error) {
	return publisher.Stats{}, false, publisher.ErrNotImplemented
}

// Factory implements publisher.Factory.
type Factory struct{}

func (Factory) Target() publisher.Target { return publisher.TargetMedium }

func (Factory) New(cfg publisher.TargetConfig, deps publisher.Deps) (publisher.Publisher, error) {
	return New(cfg, deps)
}
