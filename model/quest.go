package model

import (
	"time"

	"gorm.io/datatypes"
)

// Quest is a catalog entry. LocationIDs holds a JSON array of Location ids.
type Quest struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	Title       string         `gorm:"size:128;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Category    string         `gorm:"size:32" json:"category"`
	Difficulty  string         `gorm:"size:8;not null" json:"difficulty"` // easy | medium | hard
	Points      int            `gorm:"not null" json:"points"`
	LocationIDs datatypes.JSON `gorm:"not null" json:"location_ids"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// ActiveQuest is the single in-progress quest of a user. The unique index on
// UserID keeps at most one row per user; Version guards read-modify-write.
type ActiveQuest struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64          `gorm:"uniqueIndex:idx_active_user;not null" json:"user_id"`
	QuestID   string         `gorm:"size:64;not null" json:"quest_id"`
	Visited   datatypes.JSON `json:"visited"` // ["loc_a","loc_c"]
	StartedAt time.Time      `gorm:"not null" json:"started_at"`
	Version   int64          `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CompletedQuest is an append-only history entry.
type CompletedQuest struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"index:idx_completed_user;not null" json:"user_id"`
	QuestID       string    `gorm:"index:idx_completed_quest;size:64;not null" json:"quest_id"`
	PointsAwarded int       `gorm:"not null" json:"points_awarded"`
	FirstClear    bool      `json:"first_clear"`
	CompletedAt   time.Time `gorm:"index:idx_completed_at;not null" json:"completed_at"`
}
