package extract

import (
	"context"

	"github.com/stretchr/testify/mock"

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

func toolResponse(tool, input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", ToolID: "toolu_1", ToolName: tool, Input: []byte(input)},
		},
		StopReason: "tool_use",
		Usage:      anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func forTool(name string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ToolChoice == name && len(req.Tools) == 1 && req.Tools[0].Name == name
	})
}
