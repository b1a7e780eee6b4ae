package quest

import (
	"sort"
	"time"
)

// Status of a QuestProgress.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Progress is a user's run through one quest.
type Progress struct {
	UserID      int64      `json:"user_id"`
	QuestID     string     `json:"quest_id"`
	Visited     []string   `json:"visited_location_ids"` // sorted, distinct
	Total       int        `json:"total_locations"`
	Percent     int        `json:"percent"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Version is the stored row version the progress was read at; 0 means
	// not yet persisted.
	Version int64 `json:"-"`
}

// HasVisited reports whether locationID is already checked in.
func (p *Progress) HasVisited(locationID string) bool {
	i := sort.SearchStrings(p.Visited, locationID)
	return i < len(p.Visited) && p.Visited[i] == locationID
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	cp := *p
	cp.Visited = append([]string(nil), p.Visited...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Record is an append-only completion history entry.
type Record struct {
	QuestID       string    `json:"quest_id"`
	CompletedAt   time.Time `json:"completed_at"`
	PointsAwarded int       `json:"points_awarded"`
	FirstClear    bool      `json:"first_clear"`
}

// Outcome tags the result of a check-in.
type Outcome int

const (
	// OutcomeUnchanged: the location was already visited.
	OutcomeUnchanged Outcome = iota
	// OutcomeStillActive: a new location was recorded, quest not finished.
	OutcomeStillActive
	// OutcomeCompleted: the last required location was recorded.
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeStillActive:
		return "still_active"
	case OutcomeCompleted:
		return "completed"
	}
	return "unknown"
}

// Transition is the result of CheckIn. Record is set only for
// OutcomeCompleted; its FirstClear is left for the caller to decide.
type Transition struct {
	Outcome  Outcome
	Progress *Progress
	Record   *Record
}

// Percent returns 100*visited/total rounded half up to a whole percent and
// clamped to [0, 100]. A quest without locations counts as complete.
func Percent(visited, total int) int {
	if total <= 0 {
		return 100
	}
	if visited <= 0 {
		return 0
	}
	if visited >= total {
		return 100
	}
	return (200*visited + total) / (2 * total)
}

// Start returns fresh active progress for def. It does not check whether
// userID already has a quest; that is the caller's job.
func Start(userID int64, def *Definition, now time.Time) *Progress {
	total := len(def.RequiredLocations())
	return &Progress{
		UserID:    userID,
		QuestID:   def.ID,
		Visited:   []string{},
		Total:     total,
		Percent:   Percent(0, total),
		Status:    StatusActive,
		StartedAt: now,
	}
}

// CheckIn records a visit to locationID. It never mutates p: the returned
// Transition holds a new Progress. Errors: ErrLocationNotInQuest when the
// location is not part of def, ErrNoActiveQuest when p is nil or not active.
func CheckIn(p *Progress, def *Definition, locationID string, now time.Time) (*Transition, error) {
	if p == nil || p.Status != StatusActive {
		return nil, ErrNoActiveQuest
	}
	if !def.Requires(locationID) {
		return nil, ErrLocationNotInQuest
	}
	required := def.RequiredLocations()
	next := p.Clone()
	if p.HasVisited(locationID) {
		// A catalog edit may have dropped the last unvisited location; the
		// repeat visit then finishes the quest.
		if countIn(p.Visited, required) < len(required) {
			return &Transition{Outcome: OutcomeUnchanged, Progress: next}, nil
		}
	} else {
		next.Visited = normalizeIDs(append(next.Visited, locationID))
	}
	next.Total = len(required)
	done := countIn(next.Visited, required)
	next.Percent = Percent(done, next.Total)

	if done < len(required) {
		return &Transition{Outcome: OutcomeStillActive, Progress: next}, nil
	}

	completedAt := now
	next.Status = StatusCompleted
	next.CompletedAt = &completedAt
	next.Percent = 100
	return &Transition{
		Outcome:  OutcomeCompleted,
		Progress: next,
		Record: &Record{
			QuestID:       def.ID,
			CompletedAt:   completedAt,
			PointsAwarded: def.Points,
		},
	}, nil
}

// countIn returns how many ids of visited appear in required. Both slices
// are sorted and distinct.
func countIn(visited, required []string) int {
	n, i, j := 0, 0, 0
	for i < len(visited) && j < len(required) {
		switch {
		case visited[i] == required[j]:
			n++
			i++
			j++
		case visited[i] < required[j]:
			i++
		default:
			j++
		}
	}
	return n
}
