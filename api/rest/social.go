package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	dbadapter "github.com/sidequest/server/db"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"gorm.io/gorm"
)

// SocialHandler handles friends REST endpoints.
type SocialHandler struct {
	db    *gorm.DB
	hooks *hook.HookCenter
}

// NewSocialHandler creates a new SocialHandler. hooks may be nil.
func NewSocialHandler(db *gorm.DB, hooks *hook.HookCenter) *SocialHandler {
	return &SocialHandler{db: db, hooks: hooks}
}

// ListFriends handles GET /api/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	var users []model.User
	err := h.db.Model(&model.User{}).
		Select("users.*").
		Joins("JOIN friendships ON friendships.friend_id = users.id").
		Where("friendships.user_id = ?", mw.GetUserID(c)).
		Order("users.username ASC").
		Find(&users).Error
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	out := make([]PublicUser, len(users))
	for i := range users {
		out[i] = toPublic(&users[i])
	}
	c.JSON(http.StatusOK, gin.H{"friends": out})
}

// AddFriend handles POST /api/friends.
func (h *SocialHandler) AddFriend(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := mw.GetUserID(c)

	var friend model.User
	err := h.db.Where("username = ?", req.Username).First(&friend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if friend.ID == userID {
		fail(c, http.StatusBadRequest, "self_friend", "cannot add yourself")
		return
	}

	f := model.Friendship{UserID: userID, FriendID: friend.ID}
	if err := h.db.Create(&f).Error; err != nil {
		if dbadapter.IsUniqueViolation(err) {
			fail(c, http.StatusBadRequest, "already_friends", "already friends")
			return
		}
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if h.hooks != nil {
		_, _ = h.hooks.Trigger(c.Request.Context(), hook.OnFriendAdded, f)
	}
	c.JSON(http.StatusCreated, gin.H{"friend": toPublic(&friend)})
}

// RemoveFriend handles DELETE /api/friends/:username.
func (h *SocialHandler) RemoveFriend(c *gin.Context) {
	var friend model.User
	if err := h.db.Where("username = ?", c.Param("username")).First(&friend).Error; err != nil {
		fail(c, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	res := h.db.Where("user_id = ? AND friend_id = ?", mw.GetUserID(c), friend.ID).Delete(&model.Friendship{})
	if res.Error != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if res.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "not_friends", "not friends")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

// ActivityItem is one completion in the friends feed.
type ActivityItem struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	QuestID       string    `json:"quest_id"`
	QuestTitle    string    `json:"quest_title"`
	PointsAwarded int       `json:"points_awarded"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Activity handles GET /api/friends/activity?limit=20.
func (h *SocialHandler) Activity(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	items, err := h.activity(c.Request.Context(), mw.GetUserID(c), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}

func (h *SocialHandler) activity(ctx context.Context, userID int64, limit int) ([]ActivityItem, error) {
	items := []ActivityItem{}
	err := h.db.WithContext(ctx).Table("completed_quests").
		Select("completed_quests.user_id, users.username, users.name, completed_quests.quest_id, "+
			"COALESCE(quests.title, '') AS quest_title, completed_quests.points_awarded, completed_quests.completed_at").
		Joins("JOIN friendships ON friendships.friend_id = completed_quests.user_id").
		Joins("JOIN users ON users.id = completed_quests.user_id").
		Joins("LEFT JOIN quests ON quests.id = completed_quests.quest_id").
		Where("friendships.user_id = ?", userID).
		Order("completed_quests.completed_at DESC, completed_quests.id DESC").
		Limit(limit).
		Scan(&items).Error
	return items, err
}
