package sse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	ginsse "github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/events"
	mw "github.com/sidequest/server/middleware"
	"go.uber.org/zap"
)

// KeepAlive is how often an idle stream gets a comment line.
var KeepAlive = 30 * time.Second

// RetryMillis is the reconnect delay suggested to clients.
const RetryMillis = 3000

// Handler streams a user's quest events.
type Handler struct {
	pubsub   cache.PubSub
	sessions *mw.Sessions
	logger   *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, sessions *mw.Sessions, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, sessions: sessions, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>. A Bearer header works as well.
// The stream opens with a "connected" event; after that every quest event
// of the caller is sent under its type name with a per-stream sequence id.
func (h *Handler) ServeSSE(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = mw.BearerToken(c)
	}
	claims, err := h.sessions.Verify(c.Request.Context(), token)
	if err != nil {
		mw.AbortAuth(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	msgs, unsub, err := h.pubsub.Subscribe(ctx, events.UserChannel(claims.UserID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("user_id", claims.UserID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable", "code": "unavailable"})
		return
	}
	defer unsub()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Render(-1, ginsse.Event{
		Event: "connected",
		Retry: RetryMillis,
		Data:  gin.H{"user_id": claims.UserID},
	})
	c.Writer.Flush()

	keepAlive := time.NewTicker(KeepAlive)
	defer keepAlive.Stop()

	var seq uint64
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			var ev events.Message
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Type == "" {
				h.logger.Warn("sse dropped malformed event", zap.String("channel", msg.Channel))
				return true
			}
			seq++
			c.Render(-1, ginsse.Event{
				Id:    strconv.FormatUint(seq, 10),
				Event: ev.Type,
				Data:  msg.Payload,
			})
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}
