package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullAuthLifecycle(t *testing.T) {
	ts := NewTestServer(t)

	username := UniqueID("auth")
	token1, userID := ts.Signup(t, username, "testpass1234")
	require.Greater(t, userID, int64(0))

	resp := ts.Get(t, "/api/users/me", token1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Signin issues an independent session.
	resp = ts.PostJSON(t, "/api/auth/signin", map[string]string{
		"username": username,
		"password": "testpass1234",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var signin struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &signin)
	token2 := signin.Token
	assert.NotEqual(t, token1, token2)

	resp = ts.PostJSON(t, "/api/auth/logout", nil, token2)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, "/api/users/me", token2)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The first session is unaffected.
	resp = ts.Get(t, "/api/users/me", token1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestFriendsActivity(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedQuest(t, "solo", 15, "s")

	me, _ := ts.Signup(t, UniqueID("me"), "password1")
	friendName := UniqueID("pal")
	pal, _ := ts.Signup(t, friendName, "password1")

	resp := ts.PostJSON(t, "/api/friends", map[string]string{"username": friendName}, me)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/quests/solo/start", nil, pal)
	resp.Body.Close()
	_, out := ts.checkIn(t, pal, "s")
	require.Equal(t, "completed", out.Outcome)

	resp = ts.Get(t, "/api/friends/activity", me)
	var feed struct {
		Activity []struct {
			Username   string `json:"username"`
			QuestTitle string `json:"quest_title"`
		} `json:"activity"`
	}
	ReadJSON(t, resp, &feed)
	require.Len(t, feed.Activity, 1)
	assert.Equal(t, friendName, feed.Activity[0].Username)
	assert.Equal(t, "Quest solo", feed.Activity[0].QuestTitle)
}
