package quest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sidequest/server/catalog"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"github.com/sidequest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	svc  *quest.Service
	user *model.User
	ctx  context.Context
}

func newFixture(t *testing.T, opts ...quest.Option) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cat := catalog.NewStore(db)
	ctx := context.Background()
	require.NoError(t, cat.UpsertQuest(ctx, &quest.Definition{
		ID: "q1", Title: "Q1", Difficulty: quest.DifficultyEasy, Points: 50,
		LocationIDs: []string{"a", "b", "c"},
	}))
	require.NoError(t, cat.UpsertQuest(ctx, &quest.Definition{
		ID: "q2", Title: "Q2", Difficulty: quest.DifficultyHard, Points: 120,
		LocationIDs: []string{"x", "y"},
	}))
	svc := quest.NewService(quest.NewGormStore(db), cat, zap.NewNop(), opts...)
	return &fixture{db: db, svc: svc, user: testutil.CreateUser(t, db, "alice"), ctx: ctx}
}

func (f *fixture) reload(t *testing.T) *model.User {
	t.Helper()
	var u model.User
	require.NoError(t, f.db.First(&u, f.user.ID).Error)
	return &u
}

func TestStartQuest(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", p.QuestID)
	assert.Equal(t, 0, p.Percent)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, quest.StatusActive, p.Status)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "q1", active.QuestID)
	assert.Equal(t, 3, active.Total)
}

func TestStartQuest_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "nope")
	assert.ErrorIs(t, err, quest.ErrQuestNotFound)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartQuest_AlreadyActive(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(f.ctx, f.user.ID, "a")
	require.NoError(t, err)

	_, err = f.svc.StartQuest(f.ctx, f.user.ID, "q2")
	require.ErrorIs(t, err, quest.ErrQuestAlreadyActive)
	var ae *quest.AlreadyActiveError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "q1", ae.QuestID)

	// Starting the same quest again is rejected the same way.
	_, err = f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	assert.ErrorIs(t, err, quest.ErrQuestAlreadyActive)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "q1", active.QuestID)
	assert.Equal(t, []string{"a"}, active.Visited)
	assert.Equal(t, 33, active.Percent)

	var n int64
	f.db.Model(&model.ActiveQuest{}).Where("user_id = ?", f.user.ID).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestCheckIn_FullScenario(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)

	steps := []struct {
		loc     string
		outcome quest.Outcome
		percent int
	}{
		{"b", quest.OutcomeStillActive, 33},
		{"b", quest.OutcomeUnchanged, 33},
		{"a", quest.OutcomeStillActive, 67},
		{"c", quest.OutcomeCompleted, 100},
	}
	var last *quest.CheckInResult
	for _, s := range steps {
		res, err := f.svc.CheckIn(f.ctx, f.user.ID, s.loc)
		require.NoError(t, err, s.loc)
		assert.Equal(t, s.outcome, res.Outcome, s.loc)
		assert.Equal(t, s.percent, res.Progress.Percent, s.loc)
		last = res
	}

	assert.Equal(t, quest.StatusCompleted, last.Progress.Status)
	require.NotNil(t, last.Record)
	assert.Equal(t, 50, last.Record.PointsAwarded)
	assert.True(t, last.Record.FirstClear)

	u := f.reload(t)
	assert.Equal(t, int64(50), u.Points)
	assert.Equal(t, 1, u.QuestsCompleted)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	hist, err := f.svc.History(f.ctx, f.user.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "q1", hist[0].QuestID)
	assert.Equal(t, 50, hist[0].PointsAwarded)
}

func TestCheckIn_LocationNotInQuest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(f.ctx, f.user.ID, "a")
	require.NoError(t, err)

	res, err := f.svc.CheckIn(f.ctx, f.user.ID, "z")
	require.ErrorIs(t, err, quest.ErrLocationNotInQuest)
	require.NotNil(t, res, "current progress is reported with the error")
	assert.Equal(t, []string{"a"}, res.Progress.Visited)
	assert.Equal(t, 33, res.Progress.Percent)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, active.Visited)
}

func TestCheckIn_CompletesAfterCatalogDropsLastLocation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	for _, loc := range []string{"a", "b"} {
		_, err = f.svc.CheckIn(f.ctx, f.user.ID, loc)
		require.NoError(t, err)
	}

	require.NoError(t, catalog.NewStore(f.db).UpsertQuest(f.ctx, &quest.Definition{
		ID: "q1", Title: "Q1", Difficulty: quest.DifficultyEasy, Points: 50,
		LocationIDs: []string{"a", "b"},
	}))
	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, active.Percent)
	assert.Equal(t, quest.StatusActive, active.Status)

	res, err := f.svc.CheckIn(f.ctx, f.user.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, quest.OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, 50, res.Record.PointsAwarded)

	active, err = f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Equal(t, int64(50), f.reload(t).Points)
}

func TestCheckIn_NoActiveQuest(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CheckIn(f.ctx, f.user.ID, "a")
	assert.ErrorIs(t, err, quest.ErrNoActiveQuest)
	assert.Nil(t, res)
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)

	dropped, err := f.svc.Abandon(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, dropped, "nothing to abandon")

	_, err = f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(f.ctx, f.user.ID, "a")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(f.ctx, f.user.ID, "b")
	require.NoError(t, err)

	dropped, err = f.svc.Abandon(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, dropped)

	active, err := f.svc.Active(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	u := f.reload(t)
	assert.Zero(t, u.Points)
	assert.Zero(t, u.QuestsCompleted)

	hist, err := f.svc.History(f.ctx, f.user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)

	// A fresh quest can start right away.
	_, err = f.svc.StartQuest(f.ctx, f.user.ID, "q2")
	assert.NoError(t, err)
}

func complete(t *testing.T, f *fixture, questID string, locs ...string) *quest.CheckInResult {
	t.Helper()
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, questID)
	require.NoError(t, err)
	var res *quest.CheckInResult
	for _, l := range locs {
		res, err = f.svc.CheckIn(f.ctx, f.user.ID, l)
		require.NoError(t, err)
	}
	require.Equal(t, quest.OutcomeCompleted, res.Outcome)
	return res
}

func TestReplay_PointsEveryTimeFirstClearOnce(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, quest.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	first := complete(t, f, "q1", "a", "b", "c")
	assert.True(t, first.Record.FirstClear)
	second := complete(t, f, "q1", "c", "a", "b")
	assert.False(t, second.Record.FirstClear)
	complete(t, f, "q2", "y", "x")

	u := f.reload(t)
	assert.Equal(t, int64(50+50+120), u.Points)
	assert.Equal(t, 3, u.QuestsCompleted)

	hist, err := f.svc.History(f.ctx, f.user.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "q2", hist[0].QuestID, "newest first")
	assert.True(t, hist[0].FirstClear)
	assert.False(t, hist[1].FirstClear)
	assert.True(t, hist[2].FirstClear)

	limited, err := f.svc.History(f.ctx, f.user.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHooks_EmittedAfterCommit(t *testing.T) {
	hc := hook.NewHookCenter()
	var mu sync.Mutex
	var seen []string
	record := func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		ev := data.(quest.Event)
		mu.Lock()
		seen = append(seen, event+":"+ev.QuestID)
		mu.Unlock()
		return data, nil
	}
	for _, e := range []string{hook.OnQuestStart, hook.OnQuestCheckIn, hook.OnQuestComplete, hook.OnQuestAbandon} {
		hc.Register(e, 0, "test", record)
	}
	f := newFixture(t, quest.WithHooks(hc))

	complete(t, f, "q2", "x", "y")
	_, err := f.svc.CheckIn(f.ctx, f.user.ID, "x")
	require.ErrorIs(t, err, quest.ErrNoActiveQuest)
	_, err = f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(f.ctx, f.user.ID, "zz")
	require.Error(t, err)
	_, err = f.svc.Abandon(f.ctx, f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"quest.started:q2",
		"quest.checked_in:q2",
		"quest.checked_in:q2",
		"quest.completed:q2",
		"quest.started:q1",
		"quest.abandoned:q1",
	}, seen)
}

func TestHooks_FailureDoesNotUndoTransition(t *testing.T) {
	hc := hook.NewHookCenter()
	hc.Register(hook.OnQuestComplete, 0, "boom", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		return data, hook.ErrInterrupt
	})
	f := newFixture(t, quest.WithHooks(hc))

	complete(t, f, "q2", "x", "y")
	assert.Equal(t, int64(120), f.reload(t).Points)
}

func TestCheckIn_ConcurrentCompletesOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartQuest(f.ctx, f.user.ID, "q1")
	require.NoError(t, err)

	locs := []string{"a", "b", "c", "a", "b", "c"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for _, l := range locs {
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			res, err := f.svc.CheckIn(f.ctx, f.user.ID, loc)
			if err != nil {
				assert.ErrorIs(t, err, quest.ErrNoActiveQuest)
				return
			}
			if res.Outcome == quest.OutcomeCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}(l)
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	u := f.reload(t)
	assert.Equal(t, int64(50), u.Points)
	assert.Equal(t, 1, u.QuestsCompleted)
}
