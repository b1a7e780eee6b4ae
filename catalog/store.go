package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sidequest/server/model"
	"github.com/sidequest/server/quest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLocationNotFound is returned for unknown location ids.
var ErrLocationNotFound = errors.New("location not found")

// ValidationError reports an invalid quest or location definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Store is the gorm-backed quest catalog and location directory.
type Store struct {
	db *gorm.DB
}

// NewStore creates a catalog Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetQuest returns the quest definition with the given id.
func (s *Store) GetQuest(ctx context.Context, id string) (*quest.Definition, error) {
	var row model.Quest
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", quest.ErrQuestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toDefinition(&row)
}

// ListQuests returns every quest ordered by points then title.
// category filters when non-empty.
func (s *Store) ListQuests(ctx context.Context, category string) ([]*quest.Definition, error) {
	var rows []model.Quest
	q := s.db.WithContext(ctx)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Order("points ASC, title ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*quest.Definition, 0, len(rows))
	for i := range rows {
		def, err := toDefinition(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// UpsertQuest validates def and inserts or replaces it.
func (s *Store) UpsertQuest(ctx context.Context, def *quest.Definition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	ids, err := json.Marshal(def.RequiredLocations())
	if err != nil {
		return err
	}
	row := model.Quest{
		ID:          def.ID,
		Title:       def.Title,
		Description: def.Description,
		Category:    def.Category,
		Difficulty:  def.Difficulty,
		Points:      def.Points,
		LocationIDs: datatypes.JSON(ids),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "category", "difficulty", "points", "location_ids", "updated_at"}),
	}).Create(&row).Error
}

// ValidateDefinition checks the catalog rules for a quest.
func ValidateDefinition(def *quest.Definition) error {
	switch {
	case strings.TrimSpace(def.ID) == "":
		return &ValidationError{Field: "id", Message: "required"}
	case strings.TrimSpace(def.Title) == "":
		return &ValidationError{Field: "title", Message: "required"}
	case !quest.ValidDifficulty(def.Difficulty):
		return &ValidationError{Field: "difficulty", Message: "must be easy, medium or hard"}
	case def.Points <= 0:
		return &ValidationError{Field: "points", Message: "must be positive"}
	case len(def.RequiredLocations()) == 0:
		return &ValidationError{Field: "location_ids", Message: "at least one location required"}
	}
	return nil
}

func toDefinition(row *model.Quest) (*quest.Definition, error) {
	var ids []string
	if len(row.LocationIDs) > 0 {
		if err := json.Unmarshal(row.LocationIDs, &ids); err != nil {
			return nil, fmt.Errorf("quest %s: decode location_ids: %w", row.ID, err)
		}
	}
	return &quest.Definition{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Category:    row.Category,
		Difficulty:  row.Difficulty,
		Points:      row.Points,
		LocationIDs: ids,
	}, nil
}

// ---- Location directory ----

// LocationFilter narrows ListLocations. Empty fields match everything.
type LocationFilter struct {
	Type    string
	Borough string
	Limit   int
}

// GetLocation returns one location by id.
func (s *Store) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	var loc model.Location
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// ListLocations returns locations ordered by name.
func (s *Store) ListLocations(ctx context.Context, f LocationFilter) ([]model.Location, error) {
	q := s.db.WithContext(ctx)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Borough != "" {
		q = q.Where("borough = ?", f.Borough)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var locs []model.Location
	if err := q.Order("name ASC").Find(&locs).Error; err != nil {
		return nil, err
	}
	return locs, nil
}

// ResolveLocations returns the locations for ids in the order given,
// skipping ids the directory does not know.
func (s *Store) ResolveLocations(ctx context.Context, ids []string) ([]model.Location, error) {
	if len(ids) == 0 {
		return []model.Location{}, nil
	}
	var locs []model.Location
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&locs).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]model.Location, len(locs))
	for _, l := range locs {
		byID[l.ID] = l
	}
	out := make([]model.Location, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// UpsertLocation validates loc and inserts or replaces it.
func (s *Store) UpsertLocation(ctx context.Context, loc *model.Location) error {
	if strings.TrimSpace(loc.ID) == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if strings.TrimSpace(loc.Name) == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	if loc.Type != model.LocationTypePlace && loc.Type != model.LocationTypeEvent {
		return &ValidationError{Field: "type", Message: "must be place or event"}
	}
	if len(loc.Categories) == 0 {
		loc.Categories = datatypes.JSON("[]")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(loc).Error
}
