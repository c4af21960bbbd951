package publisher

// Format describes how an article body is marked up.
type Format string

const (
	// FormatRich is HTML markup (headings, links, inline images).
	FormatRich Format = "rich"
	// FormatPlain is structured plain text (headings as lines, links as
	// bracketed text).
	FormatPlain Format = "plain"
)

// Article is the finished article handed to the orchestrator by the
// caller. It is immutable per dispatch call: Convert() returns a
// target-shaped copy and never mutates the input.
type Article struct {
	ID         int64
	Title      string
	Body       string
	Format     Format
	Summary    string
	CoverImage string
	Tags       []string
	Category   string
	Author     string
	Draft      bool
}

// Clone returns a deep copy so publishers can rewrite fields freely.
func (a Article) Clone() Article {
	cp := a
	cp.Tags = append([]string(nil), a.Tags...)
	return cp
}
