package ranking

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	zkey    = "leaderboard:points"
	warmKey = "leaderboard:warm"

	DefaultLimit = 10
	MaxLimit     = 100
)

// Entry is one row in the leaderboard.
type Entry struct {
	Rank            int    `json:"rank"`
	UserID          int64  `json:"user_id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfilePicture  string `json:"profile_picture,omitempty"`
	Points          int64  `json:"points"`
	QuestsCompleted int    `json:"quests_completed"`
}

// Leaderboard ranks users by points. The top entries are mirrored in a
// cache sorted set; the database is authoritative and used whenever the
// set has not been built yet.
type Leaderboard struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
	size   int
}

// New creates a Leaderboard that keeps size users in the cache.
func New(db *gorm.DB, c cache.Cache, logger *zap.Logger, size int) *Leaderboard {
	if size <= 0 {
		size = MaxLimit
	}
	return &Leaderboard{db: db, cache: c, logger: logger, size: size}
}

// ClampLimit maps a requested limit to [1, MaxLimit], using DefaultLimit
// for zero or negative values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func (lb *Leaderboard) warm(ctx context.Context) bool {
	ok, err := lb.cache.Exists(ctx, warmKey)
	return err == nil && ok
}

// Top returns the best limit users, highest points first. Ties go to the
// older account.
func (lb *Leaderboard) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	if limit <= lb.size && lb.warm(ctx) {
		members, err := lb.cache.ZRevRange(ctx, zkey, 0, int64(limit-1))
		switch {
		case err != nil:
			lb.logger.Warn("leaderboard cache read failed", zap.Error(err))
		case len(members) >= limit:
			return lb.fromMembers(ctx, members, limit)
		}
		// A short set misses users who signed up since the last refresh.
	}
	return lb.ranked(ctx, nil, limit)
}

// ranked reads the top limit users from the database, optionally only
// those with at least floor points.
func (lb *Leaderboard) ranked(ctx context.Context, floor *int64, limit int) ([]Entry, error) {
	q := lb.db.WithContext(ctx).
		Select("id, username, name, profile_picture, points, quests_completed")
	if floor != nil {
		q = q.Where("points >= ?", *floor)
	}
	var users []model.User
	if err := q.Order("points DESC, id ASC").Limit(limit).Find(&users).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, len(users))
	for i := range users {
		entries[i] = toEntry(i+1, &users[i])
	}
	return entries, nil
}

// fromMembers ranks, in the database, every user at or above the lowest
// current total among the cached members.
func (lb *Leaderboard) fromMembers(ctx context.Context, members []string, limit int) ([]Entry, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) < limit {
		return lb.ranked(ctx, nil, limit)
	}
	var floor sql.NullInt64
	err := lb.db.WithContext(ctx).Model(&model.User{}).
		Select("MIN(points)").
		Where("id IN ?", ids).
		Scan(&floor).Error
	if err != nil {
		return nil, err
	}
	if !floor.Valid {
		return lb.ranked(ctx, nil, limit)
	}
	return lb.ranked(ctx, &floor.Int64, limit)
}

func toEntry(rank int, u *model.User) Entry {
	return Entry{
		Rank:            rank,
		UserID:          u.ID,
		Username:        u.Username,
		Name:            u.Name,
		ProfilePicture:  u.ProfilePicture,
		Points:          u.Points,
		QuestsCompleted: u.QuestsCompleted,
	}
}

// Rank returns the 1-based position of userID, computed in the database.
func (lb *Leaderboard) Rank(ctx context.Context, userID int64) (int, error) {
	var u model.User
	if err := lb.db.WithContext(ctx).Select("id, points").Where("id = ?", userID).Take(&u).Error; err != nil {
		return 0, err
	}
	var ahead int64
	err := lb.db.WithContext(ctx).Model(&model.User{}).
		Where("points > ? OR (points = ? AND id < ?)", u.Points, u.Points, u.ID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

// Record stores the current total of userID in the cache.
func (lb *Leaderboard) Record(ctx context.Context, userID, points int64) error {
	return lb.cache.ZAdd(ctx, zkey, float64(points), strconv.FormatInt(userID, 10))
}

// Refresh rebuilds the cached set from the database and returns how many
// users it holds.
func (lb *Leaderboard) Refresh(ctx context.Context) (int, error) {
	var users []model.User
	err := lb.db.WithContext(ctx).
		Select("id, points").
		Order("points DESC, id ASC").
		Limit(lb.size).
		Find(&users).Error
	if err != nil {
		return 0, err
	}
	if err := lb.cache.Del(ctx, zkey, warmKey); err != nil {
		return 0, err
	}
	for _, u := range users {
		if err := lb.Record(ctx, u.ID, u.Points); err != nil {
			return 0, err
		}
	}
	if err := lb.cache.Set(ctx, warmKey, "1", 0); err != nil {
		return 0, err
	}
	lb.logger.Debug("leaderboard refreshed", zap.Int("users", len(users)))
	return len(users), nil
}
