package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sidequest/server/cli"
	"github.com/sidequest/server/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// AdminKey is the X-Admin-Key accepted by test servers.
const AdminKey = "integration-admin-key"

// TestServer is a fully wired SideQuest server on a real listener.
type TestServer struct {
	App    *cli.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>

	closeOnce sync.Once
}

// NewTestServer builds the server the same way `sidequest serve` does, on
// a private in-memory database and the in-process cache.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: AdminKey},
		Database: config.DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
		Quest: config.QuestConfig{LeaderboardSize: 100, MaxRetries: 3},
		Audit: config.AuditConfig{BatchSize: 10, FlushInterval: 50 * time.Millisecond},
	}
	app, err := cli.NewApp(cfg, zap.NewNop())
	require.NoError(t, err, "NewApp")

	server := httptest.NewServer(app.Router())
	ts := &TestServer{App: app, Server: server, URL: server.URL}
	t.Cleanup(ts.Close)
	return ts
}

// Close stops the listener and the app. Safe to call twice.
func (ts *TestServer) Close() {
	ts.closeOnce.Do(func() {
		ts.Server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ts.App.Close(ctx)
	})
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST with a JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET with an optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Delete sends a DELETE with an optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// AdminPut sends an authenticated admin PUT.
func (ts *TestServer) AdminPut(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, "", "X-Admin-Key", AdminKey)
}

// ReadJSON decodes the response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Signup registers a new account and returns its token and id.
func (ts *TestServer) Signup(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, "signup %s", username)
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &out)
	return out.Token, out.User.ID
}

// SeedQuest installs a quest and a place for each of its locations through
// the admin API.
func (ts *TestServer) SeedQuest(t *testing.T, id string, points int, locationIDs ...string) {
	t.Helper()
	for _, loc := range locationIDs {
		resp := ts.AdminPut(t, "/api/admin/locations/"+loc, map[string]interface{}{
			"type": "place",
			"name": "Place " + loc,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	resp := ts.AdminPut(t, "/api/admin/quests/"+id, map[string]interface{}{
		"title":        "Quest " + id,
		"category":     "test",
		"difficulty":   "easy",
		"points":       points,
		"location_ids": locationIDs,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// SSEClient reads a server-sent event stream.
type SSEClient struct {
	resp   *http.Response
	events chan SSEEvent
}

// SSEEvent is one event from the stream.
type SSEEvent struct {
	ID   string
	Name string
	Data string
}

// ConnectSSE opens /sse for token and waits for the connected event.
func (ts *TestServer) ConnectSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	resp, err := http.Get(ts.URL + "/sse?token=" + token)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	c := &SSEClient{resp: resp, events: make(chan SSEEvent, 64)}
	go c.readLoop()
	t.Cleanup(c.Close)

	ev, ok := c.Next(5 * time.Second)
	require.True(t, ok, "no connected event")
	require.Equal(t, "connected", ev.Name)
	return c
}

func (c *SSEClient) readLoop() {
	defer close(c.events)
	rd := bufio.NewReader(c.resp.Body)
	var cur SSEEvent
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if cur.Name != "" {
				c.events <- cur
			}
			cur = SSEEvent{}
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Name = value
		case "data":
			cur.Data = value
		}
	}
}

// Next returns the next event, or false after timeout.
func (c *SSEClient) Next(timeout time.Duration) (SSEEvent, bool) {
	select {
	case ev, ok := <-c.events:
		return ev, ok
	case <-time.After(timeout):
		return SSEEvent{}, false
	}
}

// Close ends the stream.
func (c *SSEClient) Close() {
	c.resp.Body.Close()
}

var testCounter uint64

// UniqueID returns a short unique name that is a valid username.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
