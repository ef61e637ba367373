package selector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/pkg/anthropic"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*anthropic.MessageResponse)
	return resp, args.Error(1)
}

func toolResponse(input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", ToolName: "record_recommendations", Input: []byte(input)},
		},
	}
}

func grouped() model.GroupedMatches {
	return model.GroupedMatches{
		{
			OrganizationID:   10,
			OrganizationName: "River Trust",
			Movements: []model.GroupedMovement{
				{MovementID: 1, Title: "Clean Wells", Score: 0.9},
				{MovementID: 3, Title: "River Cleanup", Score: 0.7},
			},
		},
		{
			OrganizationID:   20,
			OrganizationName: "Book Aid",
			Movements: []model.GroupedMovement{
				{MovementID: 2, Title: "Village Libraries", Score: 0.8},
				{MovementID: 4, Title: "Teacher Training", Score: 0.6},
			},
		},
	}
}

func TestSelect_PayloadCarriesQueryAndGroups(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if req.ToolChoice != "record_recommendations" || len(req.Messages) != 1 {
			return false
		}
		var body map[string]any
		if err := json.Unmarshal([]byte(req.Messages[0].Content), &body); err != nil {
			return false
		}
		groups, _ := body["grouped_matches"].(map[string]any)
		return body["query"] == "clean water in Africa" && len(groups) == 2 && groups["Book Aid"] != nil
	})).Return(toolResponse(`{"top_recommendations":[{"movement_id":1,"organization_name":"River Trust","movement_title":"Clean Wells","reason":"Direct fit."}]}`), nil)

	recs, err := New(client, "m", 0, 0, nil).Select(context.Background(), "clean water in Africa", grouped())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.Recommendation{MovementID: 1, OrganizationName: "River Trust", MovementTitle: "Clean Wells", Reason: "Direct fit."}, recs[0])
	client.AssertExpectations(t)
}

func TestSelect_DropsUnknownAndDuplicateIDs(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(toolResponse(`{"top_recommendations":[
		{"movement_id":99,"organization_name":"Ghost","movement_title":"Made up","reason":"x"},
		{"movement_id":2,"organization_name":"book aid","movement_title":"Libraries","reason":" Reading. "},
		{"movement_id":2,"organization_name":"Book Aid","movement_title":"Village Libraries","reason":"dup"},
		{"movement_id":3,"organization_name":"River Trust","movement_title":"River Cleanup","reason":"y"}
	]}`), nil)

	recs, err := New(client, "m", 0, 0, nil).Select(context.Background(), "q", grouped())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].MovementID)
	assert.Equal(t, "Book Aid", recs[0].OrganizationName)
	assert.Equal(t, "Village Libraries", recs[0].MovementTitle)
	assert.Equal(t, "Reading.", recs[0].Reason)
	assert.Equal(t, int64(3), recs[1].MovementID)
}

func TestSelect_CapsRecommendations(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(toolResponse(`{"top_recommendations":[
		{"movement_id":1,"organization_name":"","movement_title":"","reason":"a"},
		{"movement_id":2,"organization_name":"","movement_title":"","reason":"b"},
		{"movement_id":3,"organization_name":"","movement_title":"","reason":"c"},
		{"movement_id":4,"organization_name":"","movement_title":"","reason":"d"}
	]}`), nil)

	recs, err := New(client, "m", 0, 0, nil).Select(context.Background(), "q", grouped())
	require.NoError(t, err)
	assert.Len(t, recs, DefaultMaxRecommendations)

	recs, err = New(client, "m", 0, 2, nil).Select(context.Background(), "q", grouped())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = New(client, "m", 0, 10, nil).Select(context.Background(), "q", grouped())
	require.NoError(t, err)
	assert.Len(t, recs, DefaultMaxRecommendations)
}

func TestSelect_EmptyGroupsSkipsModel(t *testing.T) {
	client := &mockAnthropicClient{}
	recs, err := New(client, "m", 0, 0, nil).Select(context.Background(), "q", nil)
	assert.NoError(t, err)
	assert.Empty(t, recs)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSelect_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{"provider error", nil, assert.AnError},
		{"no tool call", &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "Here you go"}}}, nil},
		{"malformed json", toolResponse(`{"top_recommendations": [`), nil},
		{"wrong shape", toolResponse(`{"top_recommendations": [{"movement_id": "one"}]}`), nil},
		{"missing field", toolResponse(`{"recommendations": []}`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAnthropicClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			recs, err := New(client, "m", 0, 0, nil).Select(context.Background(), "q", grouped())
			assert.Error(t, err)
			assert.Nil(t, recs)
		})
	}
}
