// Package selector asks the language model to pick and justify the best
// movements for a donor query from the grouped match candidates.
package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/resilience"
	"github.com/sells-group/compass/pkg/anthropic"
)

// DefaultMaxRecommendations caps the recommendations per query.
const DefaultMaxRecommendations = 3

const systemText = `You are Compass, an assistant that helps donors choose where to donate.

You will receive a JSON object with the donor's "query" and "grouped_matches", the matched movements grouped by organization. Your job:
1) Understand the donor's intent from the query.
2) Select the top movements that best fit that intent, balancing impact, relevance and clarity.
3) For each recommendation give a brief reason (1-2 sentences) citing the movement's fit with the query.

Only recommend movement ids that appear in grouped_matches.`

var recommendTool = anthropic.Tool{
	Name:        "record_recommendations",
	Description: "Record the recommended movements with a short reason each.",
	InputSchema: map[string]any{
		"top_recommendations": map[string]any{
			"type":     "array",
			"maxItems": DefaultMaxRecommendations,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"movement_id":       map[string]any{"type": "integer"},
					"organization_name": map[string]any{"type": "string"},
					"movement_title":    map[string]any{"type": "string"},
					"reason":            map[string]any{"type": "string"},
				},
				"required": []string{"movement_id", "organization_name", "movement_title", "reason"},
			},
		},
	},
	Required: []string{"top_recommendations"},
}

// Selector re-ranks match candidates with the language model.
type Selector struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	max       int
	policy    *resilience.Policy
}

// New creates a Selector returning at most maxRecs recommendations. Values
// outside 1..DefaultMaxRecommendations become DefaultMaxRecommendations.
func New(client anthropic.Client, modelName string, maxTokens, maxRecs int, policy *resilience.Policy) *Selector {
	if maxRecs <= 0 || maxRecs > DefaultMaxRecommendations {
		maxRecs = DefaultMaxRecommendations
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Selector{
		client:    client,
		model:     modelName,
		maxTokens: int64(maxTokens),
		max:       maxRecs,
		policy:    policy,
	}
}

type selectionPayload struct {
	Query          string               `json:"query"`
	GroupedMatches model.GroupedMatches `json:"grouped_matches"`
}

type recommendationsPayload struct {
	TopRecommendations *[]model.Recommendation `json:"top_recommendations"`
}

// Select returns up to the configured number of recommendations for query.
// Recommendations naming movements outside grouped are dropped, as are
// duplicates. An error means the model gave no usable answer; callers
// should degrade to no recommendations.
func (s *Selector) Select(ctx context.Context, query string, grouped model.GroupedMatches) ([]model.Recommendation, error) {
	if len(grouped) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(selectionPayload{Query: query, GroupedMatches: grouped})
	if err != nil {
		return nil, eris.Wrap(err, "selector: marshal payload")
	}

	req := anthropic.MessageRequest{
		Model:      s.model,
		MaxTokens:  s.maxTokens,
		System:     anthropic.BuildCachedSystemBlocks(systemText),
		Messages:   []anthropic.Message{{Role: "user", Content: string(body)}},
		Tools:      []anthropic.Tool{recommendTool},
		ToolChoice: recommendTool.Name,
	}
	resp, err := resilience.Call(ctx, s.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "selector: model call")
	}
	resp.Usage.LogCost(s.model, "select")

	raw, ok := resp.ToolInput(recommendTool.Name)
	if !ok {
		return nil, eris.New("selector: response has no tool call")
	}

	var payload recommendationsPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, eris.Wrap(err, "selector: decode recommendations")
	}
	if payload.TopRecommendations == nil {
		return nil, eris.New("selector: payload has no top_recommendations")
	}

	return s.filter(*payload.TopRecommendations, grouped), nil
}

// filter keeps recommendations for known candidates, fills names from the
// candidate set, and caps the list.
func (s *Selector) filter(recs []model.Recommendation, grouped model.GroupedMatches) []model.Recommendation {
	type known struct{ org, title string }
	candidates := make(map[int64]known)
	for _, g := range grouped {
		for _, m := range g.Movements {
			candidates[m.MovementID] = known{org: g.OrganizationName, title: m.Title}
		}
	}

	out := make([]model.Recommendation, 0, s.max)
	seen := make(map[int64]bool)
	for _, r := range recs {
		c, ok := candidates[r.MovementID]
		if !ok || seen[r.MovementID] {
			zap.L().Debug("selector: dropping recommendation",
				zap.Int64("movement_id", r.MovementID),
				zap.Bool("duplicate", ok),
			)
			continue
		}
		seen[r.MovementID] = true
		r.OrganizationName = c.org
		r.MovementTitle = c.title
		r.Reason = strings.TrimSpace(r.Reason)
		out = append(out, r)
		if len(out) == s.max {
			break
		}
	}
	return out
}
