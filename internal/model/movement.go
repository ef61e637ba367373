package model

import "time"

// Movement is a discrete initiative or program run by an organization.
// (OrganizationID, Slug) is unique.
type Movement struct {
	ID              int64     `json:"id"`
	OrganizationID  int64     `json:"organization_id"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary,omitempty"`
	Category        string    `json:"category,omitempty"`
	Geography       string    `json:"geography,omitempty"`
	StartDate       string    `json:"start_date,omitempty"`
	SourceURLs      []string  `json:"source_urls,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
	Embedding       []float32 `json:"-"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MovementFields are the writable fields of a movement upsert.
type MovementFields struct {
	Title           string
	Summary         string
	Category        string
	Geography       string
	StartDate       string
	SourceURLs      []string
	ConfidenceScore float64
	Embedding       []float32
}

// ExtractedMovement is a movement as returned by the extraction model,
// before slug assignment and embedding.
type ExtractedMovement struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Category   string   `json:"category"`
	Geography  string   `json:"geography"`
	StartDate  string   `json:"start_date"`
	SourceURLs []string `json:"source_urls"`
	Confidence float64  `json:"confidence_score"`
}

// EmbeddingText is the text embedded to represent the movement.
func (m *ExtractedMovement) EmbeddingText() string {
	if m.Summary == "" {
		return m.Title
	}
	return m.Title + ". " + m.Summary
}
