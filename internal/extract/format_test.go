package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/compass/internal/model"
)

func TestFormatProfileInput(t *testing.T) {
	got := FormatProfileInput(testSite())

	assert.True(t, strings.HasPrefix(got, "ORGANIZATION WEBSITE CRAWL DATA\nDomain: river.org\nMain URL: https://river.org/\nTotal Pages Crawled: 2\nCrawl Method: primary\n"))
	assert.Contains(t, got, "PAGE: River Trust (https://river.org/)\nMeta: Clean rivers\nHeadings: Our Mission\nContent: We protect rivers.\n")
	assert.Contains(t, got, "PAGE: Programs (https://river.org/programs)\nMeta: \nHeadings: \nContent: Wells and clean water.\n")
	assert.True(t, strings.HasSuffix(got, profileTrailer))
	assert.Equal(t, got, FormatProfileInput(testSite()))
}

func TestFormatMovementInput(t *testing.T) {
	got := FormatMovementInput(testSite())

	assert.True(t, strings.HasPrefix(got, "ORGANIZATION WEBSITE CRAWL DATA FOR MOVEMENT DISCOVERY\nDomain: river.org\n"))
	assert.Contains(t, got, "PAGE: River Trust (https://river.org/)\nHeadings: Our Mission\nContent: We protect rivers.\n")
	assert.NotContains(t, got, "Meta:")
	assert.True(t, strings.HasSuffix(got, movementTrailer))
}

func TestFormatInput_Bounded(t *testing.T) {
	site := &model.CrawledSite{Domain: "big.org", MainURL: "https://big.org/"}
	for i := 0; i < 20; i++ {
		site.Pages = append(site.Pages, model.CrawledPage{
			URL:     "https://big.org/p",
			Content: strings.Repeat("ü", 8000),
		})
	}

	profile := FormatProfileInput(site)
	movements := FormatMovementInput(site)

	assert.Equal(t, MaxInputChars, utf8.RuneCountInString(profile))
	assert.Equal(t, MaxInputChars, utf8.RuneCountInString(movements))
	assert.True(t, strings.HasSuffix(profile, "\n"+profileTrailer))
	assert.True(t, strings.HasSuffix(movements, "\n"+movementTrailer))
	assert.True(t, utf8.ValidString(profile))
}

func TestFormatInput_NoPages(t *testing.T) {
	got := FormatProfileInput(&model.CrawledSite{Domain: "empty.org", CrawlMethod: model.CrawlMethodFailed})
	assert.Contains(t, got, "Total Pages Crawled: 0")
	assert.Contains(t, got, "Crawl Method: failed")
}
