package rest

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbadapter "github.com/sidequest/server/db"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// bcryptCost matches the work factor accounts were created with.
const bcryptCost = 12

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db       *gorm.DB
	sessions *mw.Sessions
	hooks    *hook.HookCenter
}

// NewAuthHandler creates a new AuthHandler. hooks may be nil.
func NewAuthHandler(db *gorm.DB, sessions *mw.Sessions, hooks *hook.HookCenter) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, hooks: hooks}
}

type signupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6,max=64"`
	Email    string `json:"email" binding:"omitempty,email,max=128"`
	Name     string `json:"name" binding:"max=64"`
}

type signinRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup handles POST /api/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		fail(c, http.StatusBadRequest, "invalid_username", "username may only contain letters, digits, '_' and '-'")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Username
	}
	now := time.Now()
	user := model.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Email:        req.Email,
		Name:         name,
		Status:       model.UserStatusNormal,
		LastLoginAt:  &now,
		LastLoginIP:  c.ClientIP(),
	}
	if err := h.db.Create(&user).Error; err != nil {
		// Unique constraint violation: the name was taken, possibly concurrently.
		if dbadapter.IsUniqueViolation(err) {
			fail(c, http.StatusConflict, "username_taken", "username already taken")
		} else {
			fail(c, http.StatusInternalServerError, "internal", "registration failed")
		}
		return
	}

	token, err := h.sessions.Issue(c.Request.Context(), user.ID, user.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "token error")
		return
	}
	h.trigger(c.Request.Context(), hook.OnUserSignup, &user)
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Signin handles POST /api/auth/signin.
func (h *AuthHandler) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var user model.User
	err := h.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		fail(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if user.Status == model.UserStatusBanned {
		fail(c, http.StatusForbidden, "banned", "account banned")
		return
	}

	token, err := h.sessions.Issue(c.Request.Context(), user.ID, user.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "token error")
		return
	}

	// Update last login (best-effort).
	now := time.Now()
	user.LastLoginAt = &now
	user.LastLoginIP = c.ClientIP()
	_ = h.db.Model(&user).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": user.LastLoginIP,
	})
	h.trigger(c.Request.Context(), hook.OnUserSignin, &user)

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.BearerToken(c)
	if tokenStr == "" {
		fail(c, http.StatusBadRequest, "missing_token", "missing token")
		return
	}
	_ = h.sessions.Revoke(c.Request.Context(), tokenStr)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	if userID == 0 {
		fail(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	ctx := c.Request.Context()
	_ = h.sessions.Revoke(ctx, mw.BearerToken(c))

	newToken, err := h.sessions.Issue(ctx, userID, mw.GetUsername(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "token error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

func (h *AuthHandler) trigger(ctx context.Context, event string, data interface{}) {
	if h.hooks != nil {
		_, _ = h.hooks.Trigger(ctx, event, data)
	}
}
