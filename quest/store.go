package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	dbadapter "github.com/sidequest/server/db"
	"github.com/sidequest/server/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStore persists per-user quest state. Implementations must make
// Atomically run fn in a single transaction: either every write inside fn
// commits or none does.
type AccountStore interface {
	// GetActiveProgress returns nil, nil when the user has no active quest.
	GetActiveProgress(ctx context.Context, userID int64) (*Progress, error)
	// SetActiveProgress inserts (Version 0), updates (Version > 0, must
	// match the stored version) or clears (p == nil) the active quest.
	// A lost race returns ErrConflict. On success p.Version is the new version.
	SetActiveProgress(ctx context.Context, userID int64, p *Progress) error
	AppendCompletedRecord(ctx context.Context, userID int64, rec Record) error
	IncrementPoints(ctx context.Context, userID int64, amount int) error
	IncrementCompleted(ctx context.Context, userID int64) error
	HasCompleted(ctx context.Context, userID int64, questID string) (bool, error)
	History(ctx context.Context, userID int64, limit int) ([]Record, error)
	Atomically(ctx context.Context, fn func(AccountStore) error) error
}

// GormStore is the gorm-backed AccountStore.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore creates a GormStore over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Atomically(ctx context.Context, fn func(AccountStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) GetActiveProgress(ctx context.Context, userID int64) (*Progress, error) {
	q := s.db.WithContext(ctx)
	if s.inTx {
		// No-op on SQLite; row lock on MySQL and PostgreSQL.
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row model.ActiveQuest
	err := q.Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var visited []string
	if len(row.Visited) > 0 {
		if err := json.Unmarshal(row.Visited, &visited); err != nil {
			return nil, fmt.Errorf("decode visited for user %d: %w", userID, err)
		}
	}
	return &Progress{
		UserID:    row.UserID,
		QuestID:   row.QuestID,
		Visited:   normalizeIDs(visited),
		Status:    StatusActive,
		StartedAt: row.StartedAt,
		Version:   row.Version,
	}, nil
}

func (s *GormStore) SetActiveProgress(ctx context.Context, userID int64, p *Progress) error {
	db := s.db.WithContext(ctx)
	if p == nil {
		return db.Where("user_id = ?", userID).Delete(&model.ActiveQuest{}).Error
	}

	visited, err := json.Marshal(normalizeIDs(p.Visited))
	if err != nil {
		return err
	}

	if p.Version == 0 {
		row := model.ActiveQuest{
			UserID:    userID,
			QuestID:   p.QuestID,
			Visited:   datatypes.JSON(visited),
			StartedAt: p.StartedAt,
			Version:   1,
		}
		if err := db.Create(&row).Error; err != nil {
			if dbadapter.IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		p.Version = row.Version
		return nil
	}

	res := db.Model(&model.ActiveQuest{}).
		Where("user_id = ? AND version = ?", userID, p.Version).
		Updates(map[string]interface{}{
			"quest_id": p.QuestID,
			"visited":  datatypes.JSON(visited),
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	p.Version++
	return nil
}

func (s *GormStore) AppendCompletedRecord(ctx context.Context, userID int64, rec Record) error {
	return s.db.WithContext(ctx).Create(&model.CompletedQuest{
		UserID:        userID,
		QuestID:       rec.QuestID,
		PointsAwarded: rec.PointsAwarded,
		FirstClear:    rec.FirstClear,
		CompletedAt:   rec.CompletedAt,
	}).Error
}

func (s *GormStore) IncrementPoints(ctx context.Context, userID int64, amount int) error {
	return s.bumpUser(ctx, userID, "points", amount)
}

func (s *GormStore) IncrementCompleted(ctx context.Context, userID int64) error {
	return s.bumpUser(ctx, userID, "quests_completed", 1)
}

func (s *GormStore) bumpUser(ctx context.Context, userID int64, column string, delta int) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

func (s *GormStore) HasCompleted(ctx context.Context, userID int64, questID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.CompletedQuest{}).
		Where("user_id = ? AND quest_id = ?", userID, questID).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) History(ctx context.Context, userID int64, limit int) ([]Record, error) {
	var rows []model.CompletedQuest
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("completed_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = Record{
			QuestID:       r.QuestID,
			CompletedAt:   r.CompletedAt,
			PointsAwarded: r.PointsAwarded,
			FirstClear:    r.FirstClear,
		}
	}
	return out, nil
}
