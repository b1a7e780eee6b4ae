package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sidequest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
locations:
  - id: cafe
    type: place
    name: Corner Cafe
    categories: [coffee]
    borough: Brooklyn
  - id: gallery
    type: place
    name: Small Gallery
  - id: show
    type: event
    name: Late Show
    starts_at: 2026-11-01T20:00:00Z
quests:
  - id: art_walk
    title: Art Walk
    difficulty: medium
    points: 80
    location_ids: [gallery, cafe]
  - id: night_out
    title: Night Out
    difficulty: hard
    points: 120
    location_ids: [show, cafe, gallery]
`

func TestParse_Valid(t *testing.T) {
	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, f.Locations, 3)
	require.Len(t, f.Quests, 2)
	assert.Equal(t, []string{"coffee"}, f.Locations[0].Categories)
	require.NotNil(t, f.Locations[2].StartsAt)
	assert.Equal(t, 2026, f.Locations[2].StartsAt.Year())
	assert.Equal(t, 120, f.Quests[1].Points)
}

func TestParse_UnknownLocation(t *testing.T) {
	_, err := Parse([]byte(`
locations:
  - {id: a, type: place, name: A}
quests:
  - {id: q, title: Q, difficulty: easy, points: 5, location_ids: [a, b]}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown location "b"`)
}

func TestParse_Duplicates(t *testing.T) {
	_, err := Parse([]byte(`
locations:
  - {id: a, type: place, name: A}
  - {id: a, type: place, name: A2}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate location")

	_, err = Parse([]byte(`
locations:
  - {id: a, type: place, name: A}
quests:
  - {id: q, title: Q, difficulty: easy, points: 5, location_ids: [a]}
  - {id: q, title: Q, difficulty: easy, points: 5, location_ids: [a]}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate quest")
}

func TestParse_InvalidQuest(t *testing.T) {
	_, err := Parse([]byte(`
locations:
  - {id: a, type: place, name: A}
quests:
  - {id: q, title: Q, difficulty: legendary, points: 5, location_ids: [a]}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "difficulty")
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("quests: [unterminated"))
	assert.Error(t, err)
}

func TestLoadFile_AndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	s := NewStore(testutil.SetupTestDB(t))
	ctx := context.Background()
	res, err := s.Seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Locations: 3, Quests: 2}, res)

	// Seeding twice is an upsert, not a duplicate.
	_, err = s.Seed(ctx, f)
	require.NoError(t, err)

	quests, err := s.ListQuests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, quests, 2)

	q, err := s.GetQuest(ctx, "night_out")
	require.NoError(t, err)
	assert.Equal(t, []string{"cafe", "gallery", "show"}, q.LocationIDs)

	loc, err := s.GetLocation(ctx, "cafe")
	require.NoError(t, err)
	assert.JSONEq(t, `["coffee"]`, string(loc.Categories))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLocationSpec_Model(t *testing.T) {
	loc, err := LocationSpec{ID: "pier", Type: "place", Name: "Gantry Pier"}.Model()
	require.NoError(t, err)
	assert.Equal(t, "pier", loc.ID)
	assert.JSONEq(t, `[]`, string(loc.Categories))

	loc, err = LocationSpec{ID: "cafe", Categories: []string{"coffee", "bakery"}}.Model()
	require.NoError(t, err)
	assert.JSONEq(t, `["coffee","bakery"]`, string(loc.Categories))
}
