package model

import (
	"bytes"
	"encoding/json"
)

// MatchCandidate is an active movement with a stored embedding, joined with
// its owning organization.
type MatchCandidate struct {
	MovementID              int64
	Title                   string
	Summary                 string
	OrganizationID          int64
	OrganizationName        string
	OrganizationDescription string
	Embedding               []float32
}

// MatchResult is one ranked candidate.
type MatchResult struct {
	MovementID              int64   `json:"movement_id"`
	OrganizationID          int64   `json:"organization_id"`
	OrganizationName        string  `json:"organization_name"`
	OrganizationDescription string  `json:"-"`
	Title                   string  `json:"title"`
	Summary                 string  `json:"summary,omitempty"`
	Score                   float64 `json:"score"`
}

// GroupedMovement is a ranked movement inside an organization group.
type GroupedMovement struct {
	MovementID int64   `json:"movement_id"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score"`
}

// OrganizationGroup collects the ranked movements of one organization.
type OrganizationGroup struct {
	OrganizationID          int64             `json:"organization_id"`
	OrganizationName        string            `json:"organization_name"`
	OrganizationDescription string            `json:"organization_description"`
	Movements               []GroupedMovement `json:"movements"`
}

// GroupedMatches is an ordered mapping from organization name to group.
// Group order follows the rank of each organization's best movement.
type GroupedMatches []OrganizationGroup

// MarshalJSON encodes the groups as a JSON object keyed by organization
// name, keeping group order.
func (g GroupedMatches) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, grp := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(grp.OrganizationName)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(grp)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MovementIDs returns the set of movement ids across all groups.
func (g GroupedMatches) MovementIDs() map[int64]bool {
	ids := make(map[int64]bool)
	for _, grp := range g {
		for _, m := range grp.Movements {
			ids[m.MovementID] = true
		}
	}
	return ids
}

// Recommendation is a movement chosen for a donor query with a short reason.
type Recommendation struct {
	MovementID       int64  `json:"movement_id"`
	OrganizationName string `json:"organization_name"`
	MovementTitle    string `json:"movement_title"`
	Reason           string `json:"reason"`
}

// MatchResponse is the result of a donor query.
type MatchResponse struct {
	Query           string           `json:"query"`
	GroupedMatches  GroupedMatches   `json:"grouped_matches"`
	RawMatches      []MatchResult    `json:"raw_matches"`
	Recommendations []Recommendation `json:"recommendations"`
	Error           string           `json:"error,omitempty"`
	SelectionError  string           `json:"selection_error,omitempty"`
}
