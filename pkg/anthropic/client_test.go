package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageJSON(content []map[string]any) map[string]any {
	return map[string]any{
		"id":          "msg_test_001",
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     3,
		},
	}
}

func TestSDKClient_CreateMessage_Text(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON([]map[string]any{ //nolint:errcheck
			{"type": "text", "text": "Hello from test"},
		}))
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello from test", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(3), resp.Usage.CacheReadInputTokens)

	_, ok := resp.ToolInput("record_profile")
	assert.False(t, ok)
}

func TestSDKClient_CreateMessage_ForcedTool(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON([]map[string]any{ //nolint:errcheck
			{"type": "tool_use", "id": "toolu_1", "name": "record_profile", "input": map[string]any{"tagline": "Clean rivers"}},
		}))
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		System:    BuildCachedSystemBlocks("You extract profiles."),
		Messages:  []Message{{Role: "user", Content: "PAGE: Home"}},
		Tools: []Tool{{
			Name:        "record_profile",
			Description: "Record the organization profile.",
			InputSchema: map[string]any{"tagline": map[string]any{"type": "string"}},
			Required:    []string{"tagline"},
		}},
		ToolChoice: "record_profile",
	})
	require.NoError(t, err)

	input, ok := resp.ToolInput("record_profile")
	require.True(t, ok)
	assert.JSONEq(t, `{"tagline":"Clean rivers"}`, string(input))
	assert.Equal(t, "toolu_1", resp.Content[0].ToolID)

	tools, _ := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "record_profile", tool["name"])
	schema := tool["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"tagline"}, schema["required"])

	choice := body["tool_choice"].(map[string]any)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "record_profile", choice["name"])

	system := body["system"].([]any)
	require.Len(t, system, 1)
	assert.NotNil(t, system[0].(map[string]any)["cache_control"])
}

func TestSDKClient_CreateMessage_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestToSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("instructions")
	require.Len(t, blocks, 1)
	assert.Equal(t, "instructions", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)

	assert.Nil(t, BuildCachedSystemBlocks(""))
}

func TestMessageResponse_TextSkipsToolBlocks(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", ToolName: "x", Input: json.RawMessage(`{}`)},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 4.80, u.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
	assert.InDelta(t, 18.00, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
	assert.Equal(t, 0.0, u.EstimateCost("unknown-model"))

	cached := TokenUsage{CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 0.08, cached.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 5}.LogCost("claude-haiku-4-5-20251001", "profile")
	})
}
