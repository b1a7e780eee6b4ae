package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/api/rest"
	"github.com/sidequest/server/audit"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/catalog"
	"github.com/sidequest/server/config"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/quest"
	"github.com/sidequest/server/ranking"
	"github.com/sidequest/server/scheduler"
	"github.com/sidequest/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "admin-secret"

type env struct {
	r       *gin.Engine
	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	sec     config.SecurityConfig
	catalog *catalog.Store
	lb      *ranking.Leaderboard
	sched   *scheduler.Scheduler
	audit   *audit.Service
}

func newEnv(t *testing.T, tweaks ...func(*config.SecurityConfig)) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	for _, tw := range tweaks {
		tw(&sec)
	}

	cat := catalog.NewStore(db)
	lb := ranking.New(db, c, logger, 100)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	svc := quest.NewService(quest.NewGormStore(db), cat, logger)
	auditSvc := audit.New(db, logger, audit.Options{FlushInterval: time.Hour})
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	r := gin.New()
	r.Use(mw.TraceID())
	rest.RegisterRoutes(r, rest.Deps{
		DB:          db,
		Cache:       c,
		PubSub:      ps,
		Security:    sec,
		AdminKey:    testAdminKey,
		Catalog:     cat,
		Quests:      svc,
		Leaderboard: lb,
		Scheduler:   sched,
		Audit:       auditSvc,
		Logger:      logger,
	})
	return &env{r: r, db: db, cache: c, pubsub: ps, sec: sec, catalog: cat, lb: lb, sched: sched, audit: auditSvc}
}

// seedCatalog installs quest q1 over a, b, c (50 points) and q2 over x, y
// (120 points), with matching locations.
func (e *env) seedCatalog(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "x", "y"} {
		typ := model.LocationTypePlace
		if id == "y" {
			typ = model.LocationTypeEvent
		}
		require.NoError(t, e.catalog.UpsertLocation(ctx, &model.Location{ID: id, Type: typ, Name: "Loc " + id, Borough: "Queens"}))
	}
	require.NoError(t, e.catalog.UpsertQuest(ctx, &quest.Definition{
		ID: "q1", Title: "Q1", Category: "food", Difficulty: quest.DifficultyEasy, Points: 50,
		LocationIDs: []string{"a", "b", "c"},
	}))
	require.NoError(t, e.catalog.UpsertQuest(ctx, &quest.Definition{
		ID: "q2", Title: "Q2", Category: "night", Difficulty: quest.DifficultyHard, Points: 120,
		LocationIDs: []string{"x", "y"},
	}))
}

// login creates a user directly and returns it with a live session token.
func (e *env) login(t *testing.T, username string) (*model.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, e.db, username)
	token, err := mw.GenerateToken(u.ID, u.Username, e.sec.JWTSecret, e.sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), mw.SessionKey(token), strconv.FormatInt(u.ID, 10), time.Hour))
	return u, token
}

// do sends a request. headers are name/value pairs; a non-empty token is
// sent as a Bearer Authorization header.
func (e *env) do(method, path string, body interface{}, token string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// user creates a user without a session.
func (e *env) user(t *testing.T, username string) *model.User {
	t.Helper()
	return testutil.CreateUser(t, e.db, username)
}
