package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/ranking"
	"go.uber.org/zap"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	lb     *ranking.Leaderboard
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(lb *ranking.Leaderboard, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{lb: lb, logger: logger}
}

// Top returns the users with the most points.
// GET /api/leaderboard?limit=10
func (h *RankingHandler) Top(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.lb.Top(c.Request.Context(), ranking.ClampLimit(limit))
	if err != nil {
		h.logger.Error("leaderboard query failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
