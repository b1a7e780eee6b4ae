package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/audit"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/catalog"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"github.com/sidequest/server/ranking"
	"github.com/sidequest/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	sessions *mw.Sessions
	pubsub   cache.PubSub
	catalog  *catalog.Store
	lb       *ranking.Leaderboard
	sched    *scheduler.Scheduler
	hooks    *hook.HookCenter
	audit    *audit.Service
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler over d. Hooks and Audit may be nil.
func NewAdminHandler(d Deps, sessions *mw.Sessions) *AdminHandler {
	return &AdminHandler{
		db:       d.DB,
		sessions: sessions,
		pubsub:   d.PubSub,
		catalog:  d.Catalog,
		lb:       d.Leaderboard,
		sched:    d.Scheduler,
		hooks:    d.Hooks,
		audit:    d.Audit,
		logger:   d.Logger,
	}
}

// Stats returns row counts for the dashboard, plus event stream
// delivery counters when the pub/sub backend keeps them.
// GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	counts := map[string]interface{}{
		"users":         &model.User{},
		"quests":        &model.Quest{},
		"locations":     &model.Location{},
		"active_quests": &model.ActiveQuest{},
		"completions":   &model.CompletedQuest{},
	}
	out := gin.H{}
	for name, m := range counts {
		var n int64
		if err := h.db.WithContext(c.Request.Context()).Model(m).Count(&n).Error; err != nil {
			fail(c, http.StatusInternalServerError, "internal", "db error")
			return
		}
		out[name] = n
	}
	out["scheduler_tasks"] = h.sched.Names()
	if h.pubsub != nil {
		if st, ok := cache.StatsOf(h.pubsub); ok {
			out["pubsub"] = st
		}
	}
	c.JSON(http.StatusOK, out)
}

// UpsertQuest creates or replaces a quest definition.
// PUT /api/admin/quests/:id
func (h *AdminHandler) UpsertQuest(c *gin.Context) {
	var def quest.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	def.ID = c.Param("id")
	if err := h.catalog.UpsertQuest(c.Request.Context(), &def); err != nil {
		h.catalogError(c, err)
		return
	}
	h.logger.Info("admin upserted quest", zap.String("quest_id", def.ID))
	c.JSON(http.StatusOK, gin.H{"quest": def})
}

// UpsertLocation creates or replaces a location.
// PUT /api/admin/locations/:id
func (h *AdminHandler) UpsertLocation(c *gin.Context) {
	var loc model.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	loc.ID = c.Param("id")
	if err := h.catalog.UpsertLocation(c.Request.Context(), &loc); err != nil {
		h.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

func (h *AdminHandler) catalogError(c *gin.Context, err error) {
	var ve *catalog.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "code": "invalid_definition", "field": ve.Field})
		return
	}
	h.logger.Error("catalog write failed", zap.Error(err))
	fail(c, http.StatusInternalServerError, "internal", "db error")
}

// BanUser bans or unbans a user. A ban also blocks the user's live tokens.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "invalid id")
		return
	}
	var req struct {
		Ban *bool `json:"ban" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "body must be {\"ban\": true|false}")
		return
	}
	ban := *req.Ban

	status := model.UserStatusNormal
	if ban {
		status = model.UserStatusBanned
	}
	result := h.db.Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		fail(c, http.StatusInternalServerError, "internal", "db error")
		return
	}
	if result.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}

	if err := h.sessions.SetBanned(c.Request.Context(), userID, ban); err != nil {
		h.logger.Warn("ban cache update failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	h.logger.Info("admin changed user status", zap.Int64("user_id", userID), zap.Bool("ban", ban))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// RefreshLeaderboard rebuilds the cached leaderboard now.
// POST /api/admin/leaderboard/refresh
func (h *AdminHandler) RefreshLeaderboard(c *gin.Context) {
	n, err := h.lb.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error("leaderboard refresh failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "refresh failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

// ListHooks returns every installed hook with its call and failure counts.
// GET /api/admin/hooks
func (h *AdminHandler) ListHooks(c *gin.Context) {
	regs := []hook.Registration{}
	if h.hooks != nil {
		regs = append(regs, h.hooks.Registrations()...)
	}
	c.JSON(http.StatusOK, gin.H{"hooks": regs})
}

// ListAudit answers the newest audit rows matching the query filters.
// GET /api/admin/audit?user_id=&action=&quest_id=&trace_id=&since=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.AuditLog{}})
		return
	}
	f := audit.Filter{
		Action:  c.Query("action"),
		QuestID: c.Query("quest_id"),
		TraceID: c.Query("trace_id"),
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "invalid user_id")
			return
		}
		f.UserID = &id
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		f.Limit = n
	}

	ctx := c.Request.Context()
	if err := h.audit.Flush(ctx); err != nil {
		h.logger.Warn("audit flush before query", zap.Error(err))
	}
	rows, err := h.audit.Query(ctx, f)
	if err != nil {
		h.logger.Error("audit query", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "db error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "stats": h.audit.Stats()})
}

// ListSchedulerTasks returns every scheduled job with its run stats.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// RunSchedulerTask runs one job now and answers its updated stats.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunSchedulerTask(c *gin.Context) {
	name := c.Param("name")
	err := h.sched.RunNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		fail(c, http.StatusNotFound, "not_found", "unknown task")
		return
	case errors.Is(err, scheduler.ErrBusy):
		fail(c, http.StatusConflict, "busy", "task already running")
		return
	}
	info, _ := h.sched.Info(name)
	if err != nil {
		h.logger.Warn("admin task run failed", zap.String("task", name), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "task_failed", "task": info})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": info})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503, so the server cannot
// be deployed with them open by accident.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config", "code": "admin_disabled"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}
