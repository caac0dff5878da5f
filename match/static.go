package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/counselmesh/counselmesh/core"
)

// LawyerProfile is one entry in a static matcher directory.
type LawyerProfile struct {
	ID            string
	Name          string
	PracticeAreas []string
	Locations     []string // city names and zip prefixes, lowercase
	Rating        float64  // 0..5 directory rating
}

// StaticMatcher ranks a fixed in-memory directory. It backs the mock
// provider wiring and tests; production deployments plug a remote
// matcher behind the same interface.
type StaticMatcher struct {
	profiles []LawyerProfile
}

// NewStaticMatcher creates a matcher over the given directory.
func NewStaticMatcher(profiles ...LawyerProfile) *StaticMatcher {
	return &StaticMatcher{profiles: profiles}
}

// Search implements core.Matcher. Candidates must overlap the requested
// practice areas; location overlap and rating break ties.
func (m *StaticMatcher) Search(ctx context.Context, facts map[string]any, legalIntent []string, limit int) ([]core.RankedCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 3
	}

	var cards []core.RankedCard
	for _, p := range m.profiles {
		area := overlapArea(p.PracticeAreas, legalIntent)
		if area == "" {
			continue
		}
		score := 5 + p.Rating
		explanation := fmt.Sprintf("Practices %s law", area)
		if loc := overlapLocation(p.Locations, facts); loc != "" {
			score += 3
			explanation += " near " + loc
		}
		cards = append(cards, core.RankedCard{
			ID:          p.ID,
			Name:        p.Name,
			Score:       core.ClampScore(score),
			Explanation: explanation,
		})
	}

	sort.SliceStable(cards, func(a, b int) bool { return cards[a].Score > cards[b].Score })
	if len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

func overlapArea(areas, intents []string) string {
	for _, intent := range intents {
		for _, area := range areas {
			if strings.EqualFold(area, intent) {
				return area
			}
		}
	}
	return ""
}

func overlapLocation(locations []string, facts map[string]any) string {
	for _, key := range []string{"city", "location", "zip", "state"} {
		v, ok := facts[key].(string)
		if !ok || v == "" {
			continue
		}
		needle := strings.ToLower(v)
		for _, loc := range locations {
			if loc == needle || strings.HasPrefix(needle, loc) {
				return v
			}
		}
	}
	return ""
}

// DemoDirectory returns a small directory covering the builtin topics,
// used by the mock provider wiring.
func DemoDirectory() []LawyerProfile {
	return []LawyerProfile{
		{ID: "lw-001", Name: "Alvarez Family Law", PracticeAreas: []string{"divorce", "custody"}, Locations: []string{"chicago", "606"}, Rating: 4.8},
		{ID: "lw-002", Name: "Kaplan & Oduya LLP", PracticeAreas: []string{"divorce", "estate"}, Locations: []string{"chicago", "evanston", "606", "602"}, Rating: 4.5},
		{ID: "lw-003", Name: "Harborview Tenant Advocates", PracticeAreas: []string{"tenancy"}, Locations: []string{"seattle", "981"}, Rating: 4.6},
		{ID: "lw-004", Name: "Reyes Employment Group", PracticeAreas: []string{"employment"}, Locations: []string{"austin", "787"}, Rating: 4.3},
		{ID: "lw-005", Name: "Nguyen Immigration Partners", PracticeAreas: []string{"immigration"}, Locations: []string{"houston", "770"}, Rating: 4.9},
		{ID: "lw-006", Name: "Stonebridge Estate Counsel", PracticeAreas: []string{"estate"}, Locations: []string{"chicago", "606"}, Rating: 4.1},
	}
}
