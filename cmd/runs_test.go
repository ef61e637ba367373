package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/compass/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:             "abc12345-6789-0000-0000-000000000000",
			OrganizationID: 7,
			Status:         model.RunStatusDone,
			Result:         &model.ResearchResult{Success: true, PagesCrawled: 5, MovementsFound: 3},
			CreatedAt:      now,
			UpdatedAt:      now.Add(2 * time.Minute),
		},
		{
			ID:             "def12345-6789-0000-0000-000000000000",
			OrganizationID: 9,
			Status:         model.RunStatusCrawling,
			CreatedAt:      now.Add(-1 * time.Hour),
			UpdatedAt:      now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "MOVEMENTS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "done")
	assert.Contains(t, output, "crawling")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:             "abc12345",
			OrganizationID: 1,
			Status:         model.RunStatusError,
			Result: &model.ResearchResult{
				Error: "crawl returned no pages for https://a-very-long-domain-name.example.org/",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "error")
	assert.Contains(t, output, "crawl returned no pages")
	assert.Contains(t, output, "...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
