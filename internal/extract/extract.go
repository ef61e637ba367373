// Package extract turns a crawled website into a structured organization
// profile and a list of movements by asking the language model to answer
// through a forced tool call. Extraction never fails: malformed or missing
// output degrades to conservative defaults.
package extract

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/resilience"
	"github.com/sells-group/compass/pkg/anthropic"
)

const defaultMaxTokens = 2048

const profileSystemText = `You are a nonprofit research analyst. Given website crawl data for an organization, extract a concise profile.
Use only information supported by the content; when inferred, keep it reasonable.
Category must be one of: ENV, EDU, HEA, ANI, ART, HUM, COM, DIS, OTH.
Leave a field empty when the website gives no evidence for it.`

const movementSystemText = `You are a nonprofit research analyst. Identify up to 5 top movements or initiatives the organization is actively running based on the website crawl.
Focus on recent or active initiatives, those with prominent pages or calls to action.
Only cite source URLs on the organization's own domain. Lower the confidence score when a movement is inferred.`

// ProfileResult is the outcome of profile extraction. OK is false when the
// fallback profile was used; Raw holds the model's tool input or text.
type ProfileResult struct {
	Profile model.OrganizationProfile
	Raw     string
	OK      bool
}

// MovementsResult is the outcome of movement extraction.
type MovementsResult struct {
	Movements []model.ExtractedMovement
	Raw       string
	OK        bool
}

// Extractor runs the two structured extraction calls.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	policy    *resilience.Policy
}

// New creates an Extractor. A nil policy calls the model once without
// retries.
func New(client anthropic.Client, modelName string, maxTokens int, policy *resilience.Policy) *Extractor {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Extractor{
		client:    client,
		model:     modelName,
		maxTokens: int64(maxTokens),
		policy:    policy,
	}
}

// FallbackProfile is the profile used when extraction fails.
func FallbackProfile() model.OrganizationProfile {
	other := model.CategoryOther
	return model.OrganizationProfile{Category: &other}
}

// ExtractProfile extracts the organization profile from site.
func (e *Extractor) ExtractProfile(ctx context.Context, site *model.CrawledSite) ProfileResult {
	payload, raw := e.invoke(ctx, "profile", profileSystemText, profileTool, FormatProfileInput(site))
	if payload == nil {
		return ProfileResult{Profile: FallbackProfile(), Raw: raw}
	}
	profile, err := decodeProfile(payload)
	if err != nil {
		zap.L().Warn("extract: invalid profile payload, using fallback",
			zap.String("domain", site.Domain),
			zap.Error(err),
		)
		return ProfileResult{Profile: FallbackProfile(), Raw: raw}
	}
	return ProfileResult{Profile: profile, Raw: raw, OK: true}
}

// ExtractMovements extracts up to MaxMovements movements from site.
func (e *Extractor) ExtractMovements(ctx context.Context, site *model.CrawledSite) MovementsResult {
	payload, raw := e.invoke(ctx, "movements", movementSystemText, movementTool, FormatMovementInput(site))
	if payload == nil {
		return MovementsResult{Raw: raw}
	}
	movements, err := decodeMovements(payload, site)
	if err != nil {
		zap.L().Warn("extract: invalid movements payload, using fallback",
			zap.String("domain", site.Domain),
			zap.Error(err),
		)
		return MovementsResult{Raw: raw}
	}
	return MovementsResult{Movements: movements, Raw: raw, OK: true}
}

// invoke forces a call to tool and returns its input. A nil payload means no
// usable result: provider error, timeout, open circuit, or a response
// without the tool call.
func (e *Extractor) invoke(ctx context.Context, stage, system string, tool anthropic.Tool, input string) (json.RawMessage, string) {
	req := anthropic.MessageRequest{
		Model:      e.model,
		MaxTokens:  e.maxTokens,
		System:     anthropic.BuildCachedSystemBlocks(system),
		Messages:   []anthropic.Message{{Role: "user", Content: input}},
		Tools:      []anthropic.Tool{tool},
		ToolChoice: tool.Name,
	}

	resp, err := resilience.Call(ctx, e.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Warn("extract: model call failed",
			zap.String("stage", stage),
			zap.Error(eris.Wrapf(err, "extract: %s", stage)),
		)
		return nil, ""
	}
	resp.Usage.LogCost(e.model, "extract_"+stage)

	payload, ok := resp.ToolInput(tool.Name)
	if !ok || len(payload) == 0 {
		zap.L().Warn("extract: response has no tool call",
			zap.String("stage", stage),
			zap.String("tool", tool.Name),
			zap.String("stop_reason", resp.StopReason),
		)
		return nil, resp.Text()
	}
	return payload, string(payload)
}
