package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/compass/internal/model"
)

// MaxInputChars bounds the prompt body built from a crawled site.
const MaxInputChars = 60000

const (
	profileTrailer  = "Please extract the organization profile as per the schema."
	movementTrailer = "Identify up to 5 top movements with supporting URLs."
)

// FormatProfileInput renders a crawled site as the profile extraction prompt
// body. The output is deterministic and at most MaxInputChars characters.
func FormatProfileInput(site *model.CrawledSite) string {
	var b strings.Builder
	b.WriteString("ORGANIZATION WEBSITE CRAWL DATA\n")
	fmt.Fprintf(&b, "Domain: %s\n", site.Domain)
	fmt.Fprintf(&b, "Main URL: %s\n", site.MainURL)
	fmt.Fprintf(&b, "Total Pages Crawled: %d\n", len(site.Pages))
	fmt.Fprintf(&b, "Crawl Method: %s\n\n", site.CrawlMethod)
	b.WriteString("PAGES:\n")
	for _, p := range site.Pages {
		fmt.Fprintf(&b, "PAGE: %s (%s)\n", p.Title, p.URL)
		fmt.Fprintf(&b, "Meta: %s\n", p.MetaDescription)
		fmt.Fprintf(&b, "Headings: %s\n", strings.Join(p.Headings, ", "))
		fmt.Fprintf(&b, "Content: %s\n\n", p.Content)
	}
	return bound(b.String(), profileTrailer)
}

// FormatMovementInput renders a crawled site as the movement discovery
// prompt body. Meta descriptions are omitted.
func FormatMovementInput(site *model.CrawledSite) string {
	var b strings.Builder
	b.WriteString("ORGANIZATION WEBSITE CRAWL DATA FOR MOVEMENT DISCOVERY\n")
	fmt.Fprintf(&b, "Domain: %s\n\n", site.Domain)
	b.WriteString("PAGES:\n")
	for _, p := range site.Pages {
		fmt.Fprintf(&b, "PAGE: %s (%s)\n", p.Title, p.URL)
		fmt.Fprintf(&b, "Headings: %s\n", strings.Join(p.Headings, ", "))
		fmt.Fprintf(&b, "Content: %s\n\n", p.Content)
	}
	return bound(b.String(), movementTrailer)
}

// bound truncates body so that body plus the trailing instruction fits in
// MaxInputChars. The instruction is always kept.
func bound(body, trailer string) string {
	room := MaxInputChars - utf8.RuneCountInString(trailer) - 1
	if utf8.RuneCountInString(body) > room {
		body = string([]rune(body)[:room])
	}
	return body + "\n" + trailer
}
