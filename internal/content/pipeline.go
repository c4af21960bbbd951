package content

import (
	"context"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

// Pipeline adapts one article into a target-shaped copy. It never
// mutates its input; calling Convert twice on the same input yields the
// same output (the image adapter's fetch cache makes remote lookups
// deterministic within a dispatch).
type Pipeline struct {
	Images publisher.ImageAdapter
	Log    logx.Logger
}

func NewPipeline(images publisher.ImageAdapter, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{Images: images, Log: log}
}

// Convert applies markup conversion, title truncation and image
// rewriting for the given target capabilities, in that order.
func (p *Pipeline) Convert(ctx context.Context, a publisher.Article, caps publisher.Capabilities) (publisher.Article, error) {
	out := a.Clone()

	// 1. Markup conversion (no-op when formats already match).
	switch {
	case !caps.RichMarkup && out.Format == publisher.FormatRich:
		plain, err := RichToPlain(out.Body)
		if err != nil {
			return publisher.Article{}, err
		}
		out.Body = plain
		out.Format = publisher.FormatPlain
	case caps.RichMarkup && out.Format == publisher.FormatPlain:
		out.Body = PlainToRich(out.Body)
		out.Format = publisher.FormatRich
	case caps.RichMarkup:
		out.Body = Sanitize(out.Body)
	}

	// 2. Title truncation.
	if caps.TruncateTitle && caps.MaxTitleLen > 0 {
		out.Title = TruncateTitle(out.Title, caps.MaxTitleLen)
	}

	// 3. Image reference rewriting (rich bodies carry inline images;
	// plain bodies had theirs flattened to bracketed lines in step 1).
	if out.Format == publisher.FormatRich {
		body, err := RewriteImages(ctx, out.Body, p.Images, caps.Images, p.Log)
		if err != nil {
			return publisher.Article{}, err
		}
		out.Body = body
	}
	out.CoverImage = AdaptCover(ctx, out.CoverImage, p.Images, caps.Images, p.Log)

	return out, nil
}
