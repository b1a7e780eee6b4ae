package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/catalog"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/quest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QuestHandler exposes the quest catalog and the caller's quest state.
type QuestHandler struct {
	db      *gorm.DB
	catalog *catalog.Store
	svc     *quest.Service
	logger  *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(db *gorm.DB, cat *catalog.Store, svc *quest.Service, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{db: db, catalog: cat, svc: svc, logger: logger}
}

// QuestSummary is a catalog entry annotated with the caller's state.
type QuestSummary struct {
	*quest.Definition
	Completions int  `json:"completions"`
	Active      bool `json:"active"`
}

// List handles GET /api/quests?category=food.
func (h *QuestHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	userID := mw.GetUserID(c)

	defs, err := h.catalog.ListQuests(ctx, c.Query("category"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	counts, err := h.completionCounts(ctx, userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	active, err := h.svc.Active(ctx, userID)
	if err != nil {
		questError(c, err, nil)
		return
	}

	out := make([]QuestSummary, len(defs))
	for i, d := range defs {
		out[i] = QuestSummary{
			Definition:  d,
			Completions: counts[d.ID],
			Active:      active != nil && active.QuestID == d.ID,
		}
	}
	c.JSON(http.StatusOK, gin.H{"quests": out})
}

func (h *QuestHandler) completionCounts(ctx context.Context, userID int64) (map[string]int, error) {
	var rows []struct {
		QuestID string
		N       int
	}
	err := h.db.WithContext(ctx).Model(&model.CompletedQuest{}).
		Select("quest_id, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("quest_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.QuestID] = r.N
	}
	return counts, nil
}

// Get handles GET /api/quests/:id.
func (h *QuestHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	def, err := h.catalog.GetQuest(ctx, c.Param("id"))
	if err != nil {
		questError(c, err, nil)
		return
	}
	locs, err := h.catalog.ResolveLocations(ctx, def.LocationIDs)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	resp := gin.H{"quest": def, "locations": locs}
	active, err := h.svc.Active(ctx, mw.GetUserID(c))
	if err != nil {
		questError(c, err, nil)
		return
	}
	if active != nil && active.QuestID == def.ID {
		resp["progress"] = active
	}
	c.JSON(http.StatusOK, resp)
}

// Active handles GET /api/quests/active.
func (h *QuestHandler) Active(c *gin.Context) {
	p, err := h.svc.Active(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		questError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": p})
}

// Start handles POST /api/quests/:id/start.
func (h *QuestHandler) Start(c *gin.Context) {
	p, err := h.svc.StartQuest(c.Request.Context(), mw.GetUserID(c), c.Param("id"))
	if err != nil {
		questError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"progress": p})
}

// CheckIn handles POST /api/quests/active/checkins.
func (h *QuestHandler) CheckIn(c *gin.Context) {
	var req struct {
		LocationID string `json:"location_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := h.svc.CheckIn(c.Request.Context(), mw.GetUserID(c), req.LocationID)
	if err != nil {
		questError(c, err, res)
		return
	}
	resp := gin.H{"outcome": res.Outcome.String(), "progress": res.Progress}
	if res.Record != nil {
		resp["record"] = res.Record
	}
	c.JSON(http.StatusOK, resp)
}

// Abandon handles DELETE /api/quests/active?confirm=true.
func (h *QuestHandler) Abandon(c *gin.Context) {
	if ok, _ := strconv.ParseBool(c.Query("confirm")); !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "abandoning discards all progress; repeat with confirm=true",
			"code":  "confirmation_required",
		})
		return
	}
	dropped, err := h.svc.Abandon(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		questError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"abandoned": dropped})
}

// History handles GET /api/quests/history?limit=50.
func (h *QuestHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	recs, err := h.svc.History(c.Request.Context(), mw.GetUserID(c), limit)
	if err != nil {
		questError(c, err, nil)
		return
	}
	if recs == nil {
		recs = []quest.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"history": recs})
}

// questError writes the JSON response for a quest service error. res, when
// set, carries the unchanged progress of a rejected check-in.
func questError(c *gin.Context, err error, res *quest.CheckInResult) {
	var active *quest.AlreadyActiveError
	switch {
	case errors.As(err, &active):
		c.JSON(http.StatusConflict, gin.H{
			"error":           err.Error(),
			"code":            "quest_already_active",
			"active_quest_id": active.QuestID,
		})
	case errors.Is(err, quest.ErrQuestNotFound):
		fail(c, http.StatusNotFound, "quest_not_found", "quest not found")
	case errors.Is(err, quest.ErrLocationNotInQuest):
		body := gin.H{"error": err.Error(), "code": "location_not_in_quest"}
		if res != nil && res.Progress != nil {
			body["progress"] = res.Progress
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, quest.ErrNoActiveQuest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "no_active_quest"})
	case errors.Is(err, quest.ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "temporarily unavailable, retry",
			"code":      "persistence_failure",
			"retryable": true,
		})
	default:
		fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
