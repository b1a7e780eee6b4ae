package model

import "time"

const (
	UserStatusBanned = 0
	UserStatusNormal = 1
)

// User is a player account together with its running quest totals.
type User struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username        string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash    string     `gorm:"size:64;not null" json:"-"`
	Email           string     `gorm:"size:128" json:"email"`
	Name            string     `gorm:"size:64" json:"name"`
	ProfilePicture  string     `gorm:"size:512" json:"profile_picture"`
	Points          int64      `gorm:"index:idx_user_points;default:0;not null" json:"points"`
	QuestsCompleted int        `gorm:"default:0;not null" json:"quests_completed"`
	Status          int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt     *time.Time `json:"last_login_at"`
	LastLoginIP     string     `gorm:"size:45" json:"-"`
}
