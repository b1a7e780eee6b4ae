package rest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/sidequest/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriends_AddListRemove(t *testing.T) {
	e := newEnv(t)
	_, token := e.login(t, "mia")
	e.user(t, "noah")

	w := e.do(http.MethodPost, "/api/friends", map[string]string{"username": "noah"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "noah", decode(t, w)["friend"].(map[string]interface{})["username"])

	w = e.do(http.MethodPost, "/api/friends", map[string]string{"username": "noah"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "already friends", body["error"])
	assert.Equal(t, "already_friends", body["code"])

	w = e.do(http.MethodGet, "/api/friends", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	friends := decode(t, w)["friends"].([]interface{})
	require.Len(t, friends, 1)
	assert.Equal(t, "noah", friends[0].(map[string]interface{})["username"])

	w = e.do(http.MethodDelete, "/api/friends/noah", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodDelete, "/api/friends/noah", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_friends", decode(t, w)["code"])

	w = e.do(http.MethodGet, "/api/friends", nil, token)
	assert.Empty(t, decode(t, w)["friends"])
}

func TestFriends_Errors(t *testing.T) {
	e := newEnv(t)
	_, token := e.login(t, "olive")

	w := e.do(http.MethodPost, "/api/friends", map[string]string{"username": "olive"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cannot add yourself", decode(t, w)["error"])

	w = e.do(http.MethodPost, "/api/friends", map[string]string{"username": "nobody"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user_not_found", decode(t, w)["code"])

	w = e.do(http.MethodPost, "/api/friends", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["code"])
}

func TestFriends_Activity(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog(t)
	me, token := e.login(t, "paul")
	friend := e.user(t, "quinn")
	stranger := e.user(t, "rose")
	require.NoError(t, e.db.Create(&model.Friendship{UserID: me.ID, FriendID: friend.ID}).Error)

	now := time.Now().UTC()
	require.NoError(t, e.db.Create(&[]model.CompletedQuest{
		{UserID: friend.ID, QuestID: "q1", PointsAwarded: 50, CompletedAt: now.Add(-time.Hour)},
		{UserID: friend.ID, QuestID: "q2", PointsAwarded: 120, CompletedAt: now},
		{UserID: stranger.ID, QuestID: "q1", PointsAwarded: 50, CompletedAt: now},
	}).Error)

	w := e.do(http.MethodGet, "/api/friends/activity", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	items := decode(t, w)["activity"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "quinn", first["username"])
	assert.Equal(t, "q2", first["quest_id"])
	assert.Equal(t, "Q2", first["quest_title"])

	w = e.do(http.MethodGet, "/api/friends/activity?limit=1", nil, token)
	assert.Len(t, decode(t, w)["activity"], 1)
}
