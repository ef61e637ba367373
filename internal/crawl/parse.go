package crawl

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/compass/internal/model"
)

// ParseHTML decodes body using the declared or sniffed charset and extracts
// the page title, meta description, h1-h3 headings, cleaned body text and
// anchor hrefs. Content is truncated to maxChars characters.
func ParseHTML(body []byte, contentType string, maxChars int) (*Document, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		if !utf8.Valid(body) {
			return nil, eris.Wrap(err, "crawl: decode charset")
		}
		decoded = body
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return nil, eris.Wrap(err, "crawl: parse html")
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})

	doc.Find("script,style,noscript").Remove()

	page := model.CrawledPage{
		Title:           collapse(doc.Find("title").First().Text()),
		MetaDescription: collapse(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
	}

	doc.Find("h1,h2,h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := collapse(s.Text()); t != "" {
			page.Headings = append(page.Headings, t)
		}
		return len(page.Headings) < MaxHeadings
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	page.Content = truncate(collapse(nodeText(root)), maxChars)

	return &Document{Page: page, Links: links}, nil
}

// nodeText joins all text nodes under sel with spaces so adjacent block
// elements do not run together.
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}

// collapse trims and collapses all whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n characters. Non-positive n keeps s whole.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
