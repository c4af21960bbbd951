package content

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// richPolicy strips unsafe markup while preserving the structural
// elements targets care about. Built once; bluemonday policies are safe
// for concurrent use.
var richPolicy = newRichPolicy()

func newRichPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6", "p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code", "b", "strong", "i", "em", "u", "a", "img", "figure", "figcaption")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	return p
}

// Sanitize strips unsafe tags and scripts but preserves structural HTML.
func Sanitize(raw string) string {
	return richPolicy.Sanitize(raw)
}

// RichToPlain converts HTML into structured plain text:
// headings become their own lines, links become "text (url)", images
// become "[image: ref]" lines, list items are dash-prefixed, and blocks
// are separated by blank lines.
func RichToPlain(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	// Already plain text: nothing to strip.
	if !strings.Contains(trimmed, "<") {
		return normalizeBlankLines(trimmed), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(Sanitize(trimmed)))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	// Inline rewrites first so block rendering sees final text.
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		switch {
		case text == "" && href == "":
			s.Remove()
		case href == "" || text == href:
			s.ReplaceWithHtml(html.EscapeString(text))
		default:
			s.ReplaceWithHtml(html.EscapeString(fmt.Sprintf("%s (%s)", text, href)))
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			s.Remove()
			return
		}
		s.ReplaceWithHtml(html.EscapeString(fmt.Sprintf("[image: %s]", src)))
	})
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})

	var blocks []string
	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, renderBlock(s)...)
	})
	if len(blocks) == 0 {
		// No block structure at all; fall back to raw text.
		if t := strings.TrimSpace(doc.Text()); t != "" {
			blocks = append(blocks, t)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// renderBlock flattens one block element (recursing through wrappers)
// into zero or more plain-text blocks.
func renderBlock(s *goquery.Selection) []string {
	switch goquery.NodeName(s) {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		if t := collapseSpace(s.Text()); t != "" {
			return []string{t}
		}
	case "ul", "ol":
		var lines []string
		s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if t := collapseSpace(li.Text()); t != "" {
				lines = append(lines, "- "+t)
			}
		})
		if len(lines) > 0 {
			return []string{strings.Join(lines, "\n")}
		}
	case "pre":
		if t := strings.TrimRight(s.Text(), "\n"); strings.TrimSpace(t) != "" {
			return []string{t}
		}
	case "blockquote":
		if t := collapseSpace(s.Text()); t != "" {
			return []string{"> " + t}
		}
	case "div", "section", "article", "figure":
		// Wrapper: recurse into children; fall back to own text.
		var out []string
		s.Children().Each(func(_ int, c *goquery.Selection) {
			out = append(out, renderBlock(c)...)
		})
		if len(out) > 0 {
			return out
		}
		if t := collapseSpace(s.Text()); t != "" {
			return []string{t}
		}
	default:
		if t := collapseSpace(s.Text()); t != "" {
			return []string{t}
		}
	}
	return nil
}

// PlainToRich wraps structured plain text as minimal HTML: one <p> per
// blank-line-separated block, single newlines as <br>. Output is passed
// through the sanitizer so downstream code can treat it as safe rich
// markup.
func PlainToRich(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	for _, block := range strings.Split(normalizeBlankLines(trimmed), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		b.WriteString("<p>")
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(html.EscapeString(strings.TrimSpace(line)))
		}
		b.WriteString("</p>\n")
	}
	return Sanitize(strings.TrimSpace(b.String()))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeBlankLines collapses runs of 3+ newlines into exactly one
// blank line and normalizes CRLF.
func normalizeBlankLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
