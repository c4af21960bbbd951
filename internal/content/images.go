package content

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

// RewriteImages runs every inline <img> reference through the image
// adapter and rewrites the src attribute to the adapted reference.
//
// A failed adaptation keeps the original reference (logged, non-fatal) —
// unless the target categorically rejects the source format, in which
// case the whole conversion fails with a clear reason.
func RewriteImages(ctx context.Context, rawHTML string, adapter publisher.ImageAdapter, spec publisher.ImageSpec, log logx.Logger) (string, error) {
	if adapter == nil || !strings.Contains(rawHTML, "<img") {
		return rawHTML, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var rejectErr error
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return true
		}
		newRef, err := adapter.Adapt(ctx, src, spec)
		if err != nil {
			if f := formatFromRef(src); f != "" && !spec.Accepts(f) {
				rejectErr = fmt.Errorf("image %q: format %q rejected by target and adaptation failed: %w",
					src, f, err)
				return false
			}
			log.Warn("image adaptation failed; keeping original reference",
				logx.String("ref", src), logx.Err(err))
			return true
		}
		if newRef != src {
			s.SetAttr("src", newRef)
		}
		return true
	})
	if rejectErr != nil {
		return "", rejectErr
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return out, nil
}

// AdaptCover adapts a cover image reference; failures fall back to the
// original reference since a cover is optional on every target.
func AdaptCover(ctx context.Context, ref string, adapter publisher.ImageAdapter, spec publisher.ImageSpec, log logx.Logger) string {
	if adapter == nil || strings.TrimSpace(ref) == "" {
		return ref
	}
	newRef, err := adapter.Adapt(ctx, ref, spec)
	if err != nil {
		log.Warn("cover adaptation failed; keeping original reference",
			logx.String("ref", ref), logx.Err(err))
		return ref
	}
	return newRef
}

// formatFromRef guesses the image format from the reference extension.
// Unknown extensions count as accepted so transient fetch errors don't
// masquerade as format rejections.
func formatFromRef(ref string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(ref)), "."))
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	case "webp":
		return "webp"
	default:
		return ""
	}
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
