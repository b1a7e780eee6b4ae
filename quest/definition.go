package quest

import "sort"

// Difficulty levels accepted in the catalog.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// ValidDifficulty reports whether d is one of easy, medium or hard.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Definition is an immutable catalog entry.
type Definition struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
	Points      int      `json:"points"`
	LocationIDs []string `json:"location_ids"`
}

// RequiredLocations returns the quest's distinct location ids, sorted.
// Empty ids are dropped.
func (d *Definition) RequiredLocations() []string {
	return normalizeIDs(d.LocationIDs)
}

// Requires reports whether locationID is one of the quest's locations.
func (d *Definition) Requires(locationID string) bool {
	if locationID == "" {
		return false
	}
	for _, id := range d.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
