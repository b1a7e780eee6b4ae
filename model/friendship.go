package model

import "time"

// Friendship is a one-directional follow: UserID lists FriendID as a friend.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_friendship;not null" json:"user_id"`
	FriendID  int64     `gorm:"uniqueIndex:idx_friendship;not null" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
