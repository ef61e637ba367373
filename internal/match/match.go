// Package match ranks movements against a query vector by cosine
// similarity and groups the ranking by owning organization.
package match

import (
	"math"
	"sort"

	"github.com/sells-group/compass/internal/model"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Rounding can push parallel vectors just past the bounds.
	return math.Max(-1, math.Min(1, s))
}

// Valid reports whether vec is usable for matching: non-empty, of the
// expected dimensionality (when dims > 0) and free of NaN and Inf.
func Valid(vec []float32, dims int) bool {
	if len(vec) == 0 || (dims > 0 && len(vec) != dims) {
		return false
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Rank scores every valid candidate against query and returns the best k,
// highest first, ties in input order. Candidates scoring below minScore are
// dropped unless that would drop all of them, in which case the
// unthresholded ranking is returned. Invalid candidates are skipped.
func Rank(query []float32, candidates []model.MatchCandidate, k int, minScore float64) []model.MatchResult {
	if k <= 0 || !Valid(query, 0) {
		return nil
	}

	dims := len(query)
	scored := make([]model.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if !Valid(c.Embedding, dims) {
			continue
		}
		scored = append(scored, model.MatchResult{
			MovementID:              c.MovementID,
			OrganizationID:          c.OrganizationID,
			OrganizationName:        c.OrganizationName,
			OrganizationDescription: c.OrganizationDescription,
			Title:                   c.Title,
			Summary:                 c.Summary,
			Score:                   Cosine(query, c.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	ranked := scored
	if minScore > 0 {
		n := sort.Search(len(scored), func(i int) bool { return scored[i].Score < minScore })
		if n > 0 {
			ranked = scored[:n]
		}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Group buckets ranked results by organization. Groups appear in order of
// their best-ranked movement and keep rank order inside each group.
func Group(ranked []model.MatchResult) model.GroupedMatches {
	groups := model.GroupedMatches{}
	index := make(map[string]int)
	for _, r := range ranked {
		i, ok := index[r.OrganizationName]
		if !ok {
			i = len(groups)
			index[r.OrganizationName] = i
			groups = append(groups, model.OrganizationGroup{
				OrganizationID:          r.OrganizationID,
				OrganizationName:        r.OrganizationName,
				OrganizationDescription: r.OrganizationDescription,
			})
		}
		groups[i].Movements = append(groups[i].Movements, model.GroupedMovement{
			MovementID: r.MovementID,
			Title:      r.Title,
			Summary:    r.Summary,
			Score:      r.Score,
		})
	}
	return groups
}
