package pipeline

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxSlugLen bounds a movement slug, suffix included.
	MaxSlugLen = 290
	// MaxSlugSuffix is the highest numeric suffix tried before a movement
	// is skipped.
	MaxSlugSuffix = 50

	fallbackSlug = "movement"
)

// Slugify folds title to ASCII, lowercases it and joins alphanumeric runs
// with hyphens. Titles with no ASCII letters or digits become "movement".
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := clip(b.String(), MaxSlugLen)
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// withSuffix appends "-n" to base, shortening base so the result fits
// MaxSlugLen.
func withSuffix(base string, n int) string {
	if n <= 0 {
		return base
	}
	suffix := "-" + strconv.Itoa(n)
	return clip(base, MaxSlugLen-len(suffix)) + suffix
}

func clip(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, "-")
}
