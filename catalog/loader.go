package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sidequest/server/model"
	"github.com/sidequest/server/quest"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// File is the on-disk catalog format:
//
//	locations:
//	  - id: cafe_grumpy
//	    type: place
//	    name: Café Grumpy
//	    categories: [coffee]
//	    latitude: 40.72
//	    longitude: -73.95
//	quests:
//	  - id: coffee_crawl
//	    title: Coffee Crawl
//	    difficulty: easy
//	    points: 50
//	    location_ids: [cafe_grumpy]
type File struct {
	Locations []LocationSpec `yaml:"locations"`
	Quests    []QuestSpec    `yaml:"quests"`
}

// LocationSpec is one entry under locations. Type is "place" or "event";
// StartsAt applies to events only.
type LocationSpec struct {
	ID         string     `yaml:"id"`
	OriginalID string     `yaml:"original_id"`
	Source     string     `yaml:"source"`
	Type       string     `yaml:"type"`
	Name       string     `yaml:"name"`
	Categories []string   `yaml:"categories"`
	ImageURL   string     `yaml:"image_url"`
	URL        string     `yaml:"url"`
	Latitude   float64    `yaml:"latitude"`
	Longitude  float64    `yaml:"longitude"`
	Street     string     `yaml:"street"`
	City       string     `yaml:"city"`
	State      string     `yaml:"state"`
	ZipCode    string     `yaml:"zip_code"`
	Borough    string     `yaml:"borough"`
	StartsAt   *time.Time `yaml:"starts_at"`
	Rating     float64    `yaml:"rating"`
	PriceLevel string     `yaml:"price_level"`
}

// QuestSpec is one entry under quests. Every LocationIDs entry must name a
// location declared in the same file.
type QuestSpec struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Difficulty  string   `yaml:"difficulty"`
	Points      int      `yaml:"points"`
	LocationIDs []string `yaml:"location_ids"`
}

// LoadFile parses and validates a catalog file. Every quest location must
// be declared in the same file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes and validates catalog YAML.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	known := make(map[string]bool, len(f.Locations))
	for _, l := range f.Locations {
		if known[l.ID] {
			return nil, fmt.Errorf("catalog: duplicate location %q", l.ID)
		}
		known[l.ID] = true
	}
	seen := make(map[string]bool, len(f.Quests))
	for _, q := range f.Quests {
		if seen[q.ID] {
			return nil, fmt.Errorf("catalog: duplicate quest %q", q.ID)
		}
		seen[q.ID] = true
		if err := ValidateDefinition(q.Definition()); err != nil {
			return nil, fmt.Errorf("catalog: quest %q: %w", q.ID, err)
		}
		for _, id := range q.LocationIDs {
			if !known[id] {
				return nil, fmt.Errorf("catalog: quest %q references unknown location %q", q.ID, id)
			}
		}
	}
	return &f, nil
}

// Definition converts the file entry into a quest definition.
func (q QuestSpec) Definition() *quest.Definition {
	return &quest.Definition{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		Category:    q.Category,
		Difficulty:  q.Difficulty,
		Points:      q.Points,
		LocationIDs: q.LocationIDs,
	}
}

// Model converts the file entry into a Location row.
func (l LocationSpec) Model() (*model.Location, error) {
	cats := l.Categories
	if cats == nil {
		cats = []string{}
	}
	raw, err := json.Marshal(cats)
	if err != nil {
		return nil, fmt.Errorf("catalog: location %q categories: %w", l.ID, err)
	}
	return &model.Location{
		ID:         l.ID,
		OriginalID: l.OriginalID,
		Source:     l.Source,
		Type:       l.Type,
		Name:       l.Name,
		Categories: datatypes.JSON(raw),
		ImageURL:   l.ImageURL,
		URL:        l.URL,
		Latitude:   l.Latitude,
		Longitude:  l.Longitude,
		Street:     l.Street,
		City:       l.City,
		State:      l.State,
		ZipCode:    l.ZipCode,
		Borough:    l.Borough,
		StartsAt:   l.StartsAt,
		Rating:     l.Rating,
		PriceLevel: l.PriceLevel,
	}, nil
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Locations int `json:"locations"`
	Quests    int `json:"quests"`
}

// Seed upserts every location, then every quest, of f into s.
func (s *Store) Seed(ctx context.Context, f *File) (SeedResult, error) {
	var res SeedResult
	for _, l := range f.Locations {
		loc, err := l.Model()
		if err != nil {
			return res, err
		}
		if err := s.UpsertLocation(ctx, loc); err != nil {
			return res, fmt.Errorf("seed location %q: %w", l.ID, err)
		}
		res.Locations++
	}
	for _, q := range f.Quests {
		if err := s.UpsertQuest(ctx, q.Definition()); err != nil {
			return res, fmt.Errorf("seed quest %q: %w", q.ID, err)
		}
		res.Quests++
	}
	return res, nil
}
