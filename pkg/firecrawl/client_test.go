package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrape_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		var req ScrapeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://river.org", req.URL)
		assert.Equal(t, []string{"markdown", "links"}, req.Formats)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": {
				"markdown": "# River Trust",
				"links": ["https://river.org/about", "https://other.org"],
				"metadata": {"title": "River Trust", "description": "Rivers", "sourceURL": "https://river.org", "statusCode": 200}
			}
		}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("fc-key", WithBaseURL(srv.URL))
	resp, err := client.Scrape(context.Background(), ScrapeRequest{URL: "https://river.org"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "# River Trust", resp.Data.Markdown)
	assert.Len(t, resp.Data.Links, 2)
	assert.Equal(t, "River Trust", resp.Data.Metadata.Title)
	assert.Equal(t, 200, resp.Data.Metadata.StatusCode)
}

func TestScrape_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"insufficient credits"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("fc-key", WithBaseURL(srv.URL)).Scrape(context.Background(), ScrapeRequest{URL: "https://a.org"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "firecrawl: scrape")
}

func TestScrape_CustomFormatsKept(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ScrapeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"markdown"}, req.Formats)
		w.Write([]byte(`{"success":true,"data":{"markdown":"x"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).Scrape(context.Background(), ScrapeRequest{URL: "https://a.org", Formats: []string{"markdown"}})
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Data.Markdown)
}

func TestScrape_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Scrape(context.Background(), ScrapeRequest{URL: "https://a.org"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}
