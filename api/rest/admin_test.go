package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/api/rest"
	"github.com/sidequest/server/audit"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_RequiresKey(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/admin/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/api/admin/stats", nil, "", "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/api/admin/stats", nil, "", "X-Admin-Key", testAdminKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuth_DisabledWithoutKey(t *testing.T) {
	r := gin.New()
	r.GET("/x", rest.AdminAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Admin-Key", "anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog(t)
	e.user(t, "xena")
	e.sched.Every("noop", time.Hour, func(context.Context) error { return nil })

	w := e.do(http.MethodGet, "/api/admin/stats", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["users"])
	assert.EqualValues(t, 2, body["quests"])
	assert.EqualValues(t, 5, body["locations"])
	assert.EqualValues(t, 0, body["active_quests"])
	assert.Contains(t, body["scheduler_tasks"], "noop")
	ps := body["pubsub"].(map[string]interface{})
	assert.EqualValues(t, 0, ps["subscriptions"])
	assert.EqualValues(t, 0, ps["dropped"])

	w = e.do(http.MethodGet, "/api/admin/scheduler", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["tasks"], 1)

	w = e.do(http.MethodGet, "/api/admin/hooks", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["hooks"])
}

func TestAdmin_RunSchedulerTask(t *testing.T) {
	e := newEnv(t)
	fail := false
	e.sched.Every("refresh", time.Hour, func(context.Context) error {
		if fail {
			return errors.New("cache unavailable")
		}
		return nil
	})

	w := e.do(http.MethodPost, "/api/admin/scheduler/refresh/run", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	task := decode(t, w)["task"].(map[string]interface{})
	assert.EqualValues(t, 1, task["runs"])
	assert.EqualValues(t, 0, task["failures"])

	fail = true
	w = e.do(http.MethodPost, "/api/admin/scheduler/refresh/run", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "task_failed", body["code"])
	assert.Equal(t, "cache unavailable", body["error"])

	w = e.do(http.MethodPost, "/api/admin/scheduler/missing/run", nil, "", "X-Admin-Key", testAdminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_ListAudit(t *testing.T) {
	e := newEnv(t)
	alice, bob := int64(1), int64(2)
	e.audit.Log(audit.Entry{UserID: &alice, Action: "quest.started", QuestID: "q1"})
	e.audit.Log(audit.Entry{UserID: &alice, Action: "quest.completed", QuestID: "q1"})
	e.audit.Log(audit.Entry{UserID: &bob, Action: "quest.started", QuestID: "q2"})

	w := e.do(http.MethodGet, "/api/admin/audit?user_id=1", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "quest.completed", entries[0].(map[string]interface{})["action"])
	assert.EqualValues(t, 3, body["stats"].(map[string]interface{})["written"])

	w = e.do(http.MethodGet, "/api/admin/audit?action=quest.started&limit=1", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["entries"], 1)

	for _, q := range []string{"user_id=abc", "since=yesterday", "limit=x"} {
		w = e.do(http.MethodGet, "/api/admin/audit?"+q, nil, "", "X-Admin-Key", testAdminKey)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAdmin_UpsertQuest(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog(t)

	w := e.do(http.MethodPut, "/api/admin/quests/q3", map[string]interface{}{
		"title":        "Bridges",
		"category":     "walk",
		"difficulty":   "medium",
		"points":       75,
		"location_ids": []string{"a", "x"},
	}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	def, err := e.catalog.GetQuest(context.Background(), "q3")
	require.NoError(t, err)
	assert.Equal(t, 75, def.Points)

	w = e.do(http.MethodPut, "/api/admin/quests/q4", map[string]interface{}{
		"title":        "Broken",
		"difficulty":   "easy",
		"points":       0,
		"location_ids": []string{"a"},
	}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "points", decode(t, w)["field"])
}

func TestAdmin_UpsertLocation(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPut, "/api/admin/locations/park", map[string]interface{}{
		"type":    "place",
		"name":    "Flushing Meadows",
		"borough": "Queens",
	}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	loc, err := e.catalog.GetLocation(context.Background(), "park")
	require.NoError(t, err)
	assert.Equal(t, "Flushing Meadows", loc.Name)
}

func TestAdmin_BanUser(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "yuri")
	path := "/api/admin/users/" + strconv.FormatInt(u.ID, 10) + "/ban"

	w := e.do(http.MethodPost, path, map[string]bool{"ban": true}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fresh model.User
	require.NoError(t, e.db.First(&fresh, u.ID).Error)
	assert.Equal(t, model.UserStatusBanned, fresh.Status)
	ok, _ := e.cache.Exists(context.Background(), mw.BannedKey(u.ID))
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/users/me", nil, token).Code)

	w = e.do(http.MethodPost, path, map[string]bool{"ban": false}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/users/me", nil, token).Code)

	w = e.do(http.MethodPost, "/api/admin/users/999999/ban", map[string]bool{"ban": true}, "", "X-Admin-Key", testAdminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodPost, "/api/admin/users/abc/ban", nil, "", "X-Admin-Key", testAdminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_BanUser_RequiresExplicitFlag(t *testing.T) {
	e := newEnv(t)
	u, token := e.login(t, "vera")
	path := "/api/admin/users/" + strconv.FormatInt(u.ID, 10) + "/ban"

	w := e.do(http.MethodPost, path, map[string]bool{"ban": true}, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)

	for name, body := range map[string]interface{}{
		"empty":      nil,
		"no flag":    map[string]string{},
		"wrong type": map[string]string{"ban": "no"},
	} {
		w = e.do(http.MethodPost, path, body, "", "X-Admin-Key", testAdminKey)
		require.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.Equal(t, "invalid_request", decode(t, w)["code"], name)
	}

	var fresh model.User
	require.NoError(t, e.db.First(&fresh, u.ID).Error)
	assert.Equal(t, model.UserStatusBanned, fresh.Status, "bad bodies must not unban")
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/users/me", nil, token).Code)
}

func TestAdmin_RefreshLeaderboard(t *testing.T) {
	e := newEnv(t)
	e.user(t, "zoe")
	e.user(t, "amy")

	w := e.do(http.MethodPost, "/api/admin/leaderboard/refresh", nil, "", "X-Admin-Key", testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["refreshed"])
}
