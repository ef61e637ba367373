package extract

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/pkg/anthropic"
)

const (
	// MaxKeywords caps the keywords kept from a profile.
	MaxKeywords = 12
	// MaxMovements caps the movements kept per extraction.
	MaxMovements   = 5
	minYearFounded = 1000
)

var profileTool = anthropic.Tool{
	Name:        "record_profile",
	Description: "Record the extracted organization profile.",
	InputSchema: map[string]any{
		"tagline":              map[string]any{"type": "string", "description": "Short mission tagline."},
		"summary":              map[string]any{"type": "string", "description": "Full summary of what the organization does."},
		"keywords":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 5, "maxItems": MaxKeywords, "description": "5-12 keywords representing focus areas."},
		"category":             map[string]any{"type": "string", "enum": model.Categories()},
		"country_of_operation": map[string]any{"type": "string", "description": "Country primarily associated with the organization."},
		"year_founded":         map[string]any{"type": "integer", "description": "Founding year if stated."},
		"contact_person":       map[string]any{"type": "string", "description": "Contact person if clearly stated."},
	},
	Required: []string{"summary", "keywords", "category"},
}

var movementTool = anthropic.Tool{
	Name:        "record_movements",
	Description: "Record the movements the organization is running.",
	InputSchema: map[string]any{
		"movements": map[string]any{
			"type":     "array",
			"maxItems": MaxMovements,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":            map[string]any{"type": "string"},
					"summary":          map[string]any{"type": "string"},
					"category":         map[string]any{"type": "string", "description": "Free-form, e.g. children, refugees, environment."},
					"geography":        map[string]any{"type": "string", "description": "Country or region if available."},
					"start_date":       map[string]any{"type": "string", "description": "YYYY or YYYY-MM if available."},
					"source_urls":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"confidence_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"title", "summary"},
			},
		},
	},
	Required: []string{"movements"},
}

type profilePayload struct {
	Tagline       *string         `json:"tagline"`
	Summary       *string         `json:"summary"`
	Keywords      []string        `json:"keywords"`
	Category      *string         `json:"category"`
	Country       *string         `json:"country_of_operation"`
	YearFounded   json.RawMessage `json:"year_founded"`
	ContactPerson *string         `json:"contact_person"`
}

type movementsPayload struct {
	Movements *[]movementPayload `json:"movements"`
}

type movementPayload struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Category   string   `json:"category"`
	Geography  string   `json:"geography"`
	StartDate  string   `json:"start_date"`
	SourceURLs []string `json:"source_urls"`
	Confidence *float64 `json:"confidence_score"`
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(err, "extract: decode payload")
	}
	if dec.More() {
		return eris.New("extract: trailing data after payload")
	}
	return nil
}

func decodeProfile(data []byte) (model.OrganizationProfile, error) {
	var p profilePayload
	if err := decodeStrict(data, &p); err != nil {
		return model.OrganizationProfile{}, err
	}

	out := model.OrganizationProfile{
		Tagline:       clean(p.Tagline),
		Summary:       clean(p.Summary),
		Keywords:      cleanKeywords(p.Keywords),
		Country:       clean(p.Country),
		ContactPerson: clean(p.ContactPerson),
		YearFounded:   parseYear(p.YearFounded),
	}
	// An absent category leaves the stored one alone.
	out.Category = MapCategory(p.Category)
	return out, nil
}

func decodeMovements(data []byte, site *model.CrawledSite) ([]model.ExtractedMovement, error) {
	var p movementsPayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, err
	}
	if p.Movements == nil {
		return nil, eris.New("extract: payload has no movements field")
	}

	var out []model.ExtractedMovement
	for _, m := range *p.Movements {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			continue
		}
		out = append(out, model.ExtractedMovement{
			Title:      title,
			Summary:    strings.TrimSpace(m.Summary),
			Category:   strings.TrimSpace(m.Category),
			Geography:  strings.TrimSpace(m.Geography),
			StartDate:  strings.TrimSpace(m.StartDate),
			SourceURLs: inDomainURLs(site, m.SourceURLs),
			Confidence: clampConfidence(m.Confidence),
		})
		if len(out) == MaxMovements {
			break
		}
	}
	return out, nil
}

func clean(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// cleanKeywords drops blanks and case-insensitive duplicates and keeps at
// most MaxKeywords.
func cleanKeywords(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range in {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, k)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

// parseYear accepts a JSON integer or a numeric string and drops years
// outside 1000..current year.
func parseYear(raw json.RawMessage) *int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil
	}
	year := int(f)
	if year < minYearFounded || year > time.Now().Year() {
		return nil
	}
	return &year
}

func clampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return 0
	}
	v := math.Max(0, math.Min(1, *c))
	return math.Round(v*1000) / 1000
}

// inDomainURLs resolves urls against the site's main URL and keeps those on
// the crawled host, deduplicated.
func inDomainURLs(site *model.CrawledSite, urls []string) []string {
	base, err := url.Parse(site.MainURL)
	if err != nil || base.Host == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, raw := range urls {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || raw == "" {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		if !sameSite(abs.Hostname(), base.Hostname()) {
			continue
		}
		s := abs.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// sameSite treats a leading "www." as insignificant.
func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}
