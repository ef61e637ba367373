package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/resilience"
	"github.com/sells-group/compass/pkg/anthropic"
)

func testSite() *model.CrawledSite {
	return &model.CrawledSite{
		Domain:  "river.org",
		MainURL: "https://river.org/",
		Pages: []model.CrawledPage{
			{URL: "https://river.org/", Title: "River Trust", MetaDescription: "Clean rivers", Headings: []string{"Our Mission"}, Content: "We protect rivers."},
			{URL: "https://river.org/programs", Title: "Programs", Content: "Wells and clean water."},
		},
		CrawlMethod: model.CrawlMethodPrimary,
	}
}

func TestExtractProfile_WellFormed(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, forTool("record_profile")).Return(toolResponse("record_profile", `{
		"tagline": " Rivers for all ",
		"summary": "River Trust restores rivers.",
		"keywords": ["water", "", "Water", "rivers", "conservation"],
		"category": "env",
		"country_of_operation": "Kenya",
		"year_founded": 1990,
		"contact_person": "Jane Doe"
	}`), nil)

	ex := New(client, "claude-haiku-4-5-20251001", 0, nil)
	res := ex.ExtractProfile(context.Background(), testSite())

	require.True(t, res.OK)
	p := res.Profile
	assert.Equal(t, "Rivers for all", p.Tagline)
	assert.Equal(t, "River Trust restores rivers.", p.Summary)
	assert.Equal(t, []string{"water", "rivers", "conservation"}, p.Keywords)
	require.NotNil(t, p.Category)
	assert.Equal(t, "ENV", *p.Category)
	assert.Equal(t, "Kenya", p.Country)
	require.NotNil(t, p.YearFounded)
	assert.Equal(t, 1990, *p.YearFounded)
	assert.Equal(t, "Jane Doe", p.ContactPerson)
	assert.Contains(t, res.Raw, "River Trust restores rivers.")
	client.AssertExpectations(t)
}

func TestExtractProfile_RequestShape(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "m" &&
			req.MaxTokens == 512 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "PAGE: River Trust (https://river.org/)")
	})).Return(toolResponse("record_profile", `{"summary":"x","keywords":[],"category":"EDU"}`), nil)

	res := New(client, "m", 512, nil).ExtractProfile(context.Background(), testSite())
	assert.True(t, res.OK)
	client.AssertExpectations(t)
}

func TestExtractProfile_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{"non-json", toolResponse("record_profile", `not json at all`), nil},
		{"wrong types", toolResponse("record_profile", `{"keywords": "water"}`), nil},
		{"unknown field", toolResponse("record_profile", `{"summary":"x","mission":"y"}`), nil},
		{"no tool call", &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "I cannot help"}}}, nil},
		{"other tool", toolResponse("record_movements", `{"movements":[]}`), nil},
		{"provider error", nil, assert.AnError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAnthropicClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			res := New(client, "m", 0, nil).ExtractProfile(context.Background(), testSite())
			assert.False(t, res.OK)
			assert.Equal(t, FallbackProfile(), res.Profile)
			require.NotNil(t, res.Profile.Category)
			assert.Equal(t, "OTH", *res.Profile.Category)
			assert.Empty(t, res.Profile.Summary)
		})
	}
}

func TestExtractProfile_TextResponseKeptAsRaw(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "I cannot help"}},
	}, nil)

	res := New(client, "m", 0, nil).ExtractProfile(context.Background(), testSite())
	assert.Equal(t, "I cannot help", res.Raw)
}

func TestExtractProfile_ValidationRepairs(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(toolResponse("record_profile", `{
		"summary": "x",
		"keywords": ["a","b","c","d","e","f","g","h","i","j","k","l","m","n"],
		"category": "charity",
		"year_founded": 3020
	}`), nil)

	res := New(client, "m", 0, nil).ExtractProfile(context.Background(), testSite())
	require.True(t, res.OK)
	assert.Len(t, res.Profile.Keywords, MaxKeywords)
	assert.Equal(t, "OTH", *res.Profile.Category)
	assert.Nil(t, res.Profile.YearFounded)
}

func TestExtractProfile_AbsentCategoryKeepsStored(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(toolResponse("record_profile", `{
		"summary": "River Trust restores rivers across the region.",
		"keywords": ["water", "rivers", "wetlands", "conservation", "kenya"]
	}`), nil)

	res := New(client, "m", 0, nil).ExtractProfile(context.Background(), testSite())
	require.True(t, res.OK)
	assert.Nil(t, res.Profile.Category)

	org := &model.Organization{Name: "River Trust", Category: "ENV"}
	changed := MergeProfile(org, res.Profile)
	assert.Equal(t, "ENV", org.Category)
	assert.NotContains(t, changed, "category")
}

func TestExtractProfile_NonRetryableStatusNotRetried(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 400, Err: assert.AnError})

	policy := resilience.NewPolicy("anthropic", 3, time.Second, 10, time.Minute)
	policy.Retry.InitialBackoff = time.Millisecond

	res := New(client, "m", 0, policy).ExtractProfile(context.Background(), testSite())
	assert.False(t, res.OK)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExtractProfile_RetryThenSuccess(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 429, Err: assert.AnError}).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_profile", `{"summary":"ok","category":"HUM"}`), nil).Once()

	policy := resilience.NewPolicy("anthropic", 3, time.Second, 10, time.Minute)
	policy.Retry.InitialBackoff = time.Millisecond
	policy.Retry.MaxBackoff = 2 * time.Millisecond

	res := New(client, "m", 0, policy).ExtractProfile(context.Background(), testSite())
	require.True(t, res.OK)
	assert.Equal(t, "ok", res.Profile.Summary)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestExtractMovements_WellFormed(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, forTool("record_movements")).Return(toolResponse("record_movements", `{
		"movements": [
			{"title": "Clean Wells", "summary": "Wells for villages.", "category": "water", "geography": "Kenya",
			 "start_date": "2019", "source_urls": ["/programs", "https://www.river.org/wells", "https://other.org/x", "/programs"],
			 "confidence_score": 1.7},
			{"title": "  ", "summary": "no title"},
			{"title": "River Cleanup", "summary": "Volunteers clean rivers.", "confidence_score": 0.12345}
		]
	}`), nil)

	res := New(client, "m", 0, nil).ExtractMovements(context.Background(), testSite())
	require.True(t, res.OK)
	require.Len(t, res.Movements, 2)

	first := res.Movements[0]
	assert.Equal(t, "Clean Wells", first.Title)
	assert.Equal(t, "Kenya", first.Geography)
	assert.Equal(t, "2019", first.StartDate)
	assert.Equal(t, []string{"https://river.org/programs", "https://www.river.org/wells"}, first.SourceURLs)
	assert.InDelta(t, 1.0, first.Confidence, 1e-9)

	second := res.Movements[1]
	assert.Equal(t, "River Cleanup", second.Title)
	assert.Empty(t, second.SourceURLs)
	assert.InDelta(t, 0.123, second.Confidence, 1e-9)
}

func TestExtractMovements_CapsAtFive(t *testing.T) {
	var items []string
	for i := 0; i < 8; i++ {
		items = append(items, `{"title":"M`+string(rune('A'+i))+`","summary":"s"}`)
	}
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_movements", `{"movements":[`+strings.Join(items, ",")+`]}`), nil)

	res := New(client, "m", 0, nil).ExtractMovements(context.Background(), testSite())
	require.True(t, res.OK)
	assert.Len(t, res.Movements, MaxMovements)
	assert.Equal(t, "MA", res.Movements[0].Title)
}

func TestExtractMovements_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{"non-json", toolResponse("record_movements", `{"movements": [`), nil},
		{"missing field", toolResponse("record_movements", `{}`), nil},
		{"not a list", toolResponse("record_movements", `{"movements": {"title": "x"}}`), nil},
		{"no tool call", &anthropic.MessageResponse{}, nil},
		{"timeout", nil, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAnthropicClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			res := New(client, "m", 0, nil).ExtractMovements(context.Background(), testSite())
			assert.False(t, res.OK)
			assert.Empty(t, res.Movements)
		})
	}
}

func TestExtractMovements_EmptyListIsValid(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_movements", `{"movements": []}`), nil)

	res := New(client, "m", 0, nil).ExtractMovements(context.Background(), testSite())
	assert.True(t, res.OK)
	assert.Empty(t, res.Movements)
}
