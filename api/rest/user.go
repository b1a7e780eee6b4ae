package rest

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/ranking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PublicUser is the profile other users may see.
type PublicUser struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	Name            string    `json:"name"`
	ProfilePicture  string    `json:"profile_picture,omitempty"`
	Points          int64     `json:"points"`
	QuestsCompleted int       `json:"quests_completed"`
	CreatedAt       time.Time `json:"created_at"`
}

func toPublic(u *model.User) PublicUser {
	return PublicUser{
		ID:              u.ID,
		Username:        u.Username,
		Name:            u.Name,
		ProfilePicture:  u.ProfilePicture,
		Points:          u.Points,
		QuestsCompleted: u.QuestsCompleted,
		CreatedAt:       u.CreatedAt,
	}
}

// UserHandler serves profiles.
type UserHandler struct {
	db     *gorm.DB
	lb     *ranking.Leaderboard
	logger *zap.Logger
}

func NewUserHandler(db *gorm.DB, lb *ranking.Leaderboard, logger *zap.Logger) *UserHandler {
	return &UserHandler{db: db, lb: lb, logger: logger}
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	var u model.User
	if err := h.db.First(&u, mw.GetUserID(c)).Error; err != nil {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "rank": h.rank(c, u.ID)})
}

type updateProfileRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=1,max=64"`
	Email          *string `json:"email" binding:"omitempty,email,max=128"`
	ProfilePicture *string `json:"profile_picture" binding:"omitempty,max=512"`
}

// UpdateMe handles PUT /api/users/me. Only the fields present in the body
// change.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.ProfilePicture != nil {
		updates["profile_picture"] = *req.ProfilePicture
	}

	userID := mw.GetUserID(c)
	if len(updates) > 0 {
		res := h.db.Model(&model.User{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			fail(c, http.StatusInternalServerError, "internal", "internal error")
			return
		}
	}
	var u model.User
	if err := h.db.First(&u, userID).Error; err != nil {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Profile handles GET /api/users/:username.
func (h *UserHandler) Profile(c *gin.Context) {
	var u model.User
	err := h.db.Where("username = ?", c.Param("username")).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toPublic(&u), "rank": h.rank(c, u.ID)})
}

func (h *UserHandler) rank(c *gin.Context, userID int64) int {
	r, err := h.lb.Rank(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("rank lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return 0
	}
	return r
}
