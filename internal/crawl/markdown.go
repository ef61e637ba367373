package crawl

import (
	"regexp"
	"strings"

	"github.com/sells-group/compass/internal/model"
)

var (
	mdLinkRe    = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	mdHeadingRe = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*#*\s*$`)
	mdNoiseRe   = regexp.MustCompile("[*_`>|]+|^-{3,}$")
)

// pageFromMarkdown builds a page from rendered markdown as returned by the
// reader services: h1-h3 headings from ATX lines, link targets from inline
// links, and link syntax reduced to its text for the content.
func pageFromMarkdown(title, description, markdown string, maxChars int) (model.CrawledPage, []string) {
	page := model.CrawledPage{
		Title:           collapse(title),
		MetaDescription: collapse(description),
	}

	var links []string
	for _, m := range mdLinkRe.FindAllStringSubmatch(markdown, -1) {
		if !strings.HasPrefix(m[0], "!") {
			links = append(links, m[2])
		}
	}

	lines := strings.Split(markdown, "\n")
	for _, line := range lines {
		hm := mdHeadingRe.FindStringSubmatch(strings.TrimSpace(line))
		if hm == nil || len(page.Headings) >= MaxHeadings {
			continue
		}
		if h := collapse(mdLinkRe.ReplaceAllString(hm[2], "$1")); h != "" {
			page.Headings = append(page.Headings, h)
		}
	}

	text := mdLinkRe.ReplaceAllStringFunc(markdown, func(s string) string {
		if strings.HasPrefix(s, "!") {
			return " "
		}
		return mdLinkRe.ReplaceAllString(s, "$1")
	})
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "#")
		line = mdNoiseRe.ReplaceAllString(line, " ")
		if l := collapse(line); l != "" {
			parts = append(parts, l)
		}
	}
	page.Content = truncate(strings.Join(parts, " "), maxChars)
	return page, links
}
