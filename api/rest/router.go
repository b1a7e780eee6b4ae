package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/audit"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/catalog"
	"github.com/sidequest/server/config"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"github.com/sidequest/server/ranking"
	"github.com/sidequest/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps is everything the REST handlers need.
type Deps struct {
	DB          *gorm.DB
	Cache       cache.Cache
	PubSub      cache.PubSub
	Security    config.SecurityConfig
	AdminKey    string
	Catalog     *catalog.Store
	Quests      *quest.Service
	Leaderboard *ranking.Leaderboard
	Scheduler   *scheduler.Scheduler
	Hooks       *hook.HookCenter
	Audit       *audit.Service
	Logger      *zap.Logger
}

// RegisterRoutes mounts the /api tree on r.
func RegisterRoutes(r gin.IRouter, d Deps) {
	sessions := mw.NewSessions(d.Security, d.Cache)
	auth := mw.RequireSession(sessions)

	authH := NewAuthHandler(d.DB, sessions, d.Hooks)
	userH := NewUserHandler(d.DB, d.Leaderboard, d.Logger)
	socialH := NewSocialHandler(d.DB, d.Hooks)
	rankH := NewRankingHandler(d.Leaderboard, d.Logger)
	locH := NewLocationHandler(d.Catalog)
	questH := NewQuestHandler(d.DB, d.Catalog, d.Quests, d.Logger)
	adminH := NewAdminHandler(d, sessions)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/signup", authH.Signup)
		authG.POST("/signin", authH.Signin)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		usersG := api.Group("/users")
		usersG.GET("/me", auth, userH.Me)
		usersG.PUT("/me", auth, userH.UpdateMe)
		usersG.GET("/:username", userH.Profile)

		friendsG := api.Group("/friends", auth)
		friendsG.GET("", socialH.ListFriends)
		friendsG.POST("", socialH.AddFriend)
		friendsG.GET("/activity", socialH.Activity)
		friendsG.DELETE("/:username", socialH.RemoveFriend)

		api.GET("/leaderboard", rankH.Top)

		api.GET("/locations", locH.List)
		api.GET("/locations/:id", locH.Get)
		api.GET("/places", locH.Places)
		api.GET("/events", locH.Events)

		questsG := api.Group("/quests", auth)
		questsG.GET("", questH.List)
		questsG.GET("/active", questH.Active)
		questsG.GET("/history", questH.History)
		questsG.GET("/:id", questH.Get)
		questsG.POST("/:id/start", questH.Start)
		questsG.POST("/active/checkins",
			mw.RateLimitBy(rate.Limit(d.Security.CheckInRPS), d.Security.CheckInBurst, mw.ByUser),
			questH.CheckIn)
		questsG.DELETE("/active", questH.Abandon)

		adminG := api.Group("/admin", mw.IPWhitelist(d.Security.AdminIPs), AdminAuth(d.AdminKey))
		adminG.PUT("/quests/:id", adminH.UpsertQuest)
		adminG.PUT("/locations/:id", adminH.UpsertLocation)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.POST("/leaderboard/refresh", adminH.RefreshLeaderboard)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/scheduler/:name/run", adminH.RunSchedulerTask)
		adminG.GET("/hooks", adminH.ListHooks)
		adminG.GET("/audit", adminH.ListAudit)
		adminG.GET("/stats", adminH.Stats)
	}
}

// fail answers a JSON error with a stable machine-readable code.
func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}
