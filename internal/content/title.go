package content

// TruncateTitle hard-cuts a title to exactly max characters (runes) when
// it is longer; shorter titles pass through unchanged. No ellipsis is
// added — the cut rule is "first max runes", kept stable so round-trip
// tests can rely on it.
func TruncateTitle(title string, max int) string {
	if max <= 0 {
		return title
	}
	r := []rune(title)
	if len(r) <= max {
		return title
	}
	return string(r[:max])
}
