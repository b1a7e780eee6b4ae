package cli

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/api/rest"
	"github.com/sidequest/server/api/sse"
	"github.com/sidequest/server/audit"
	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/catalog"
	"github.com/sidequest/server/config"
	dbadapter "github.com/sidequest/server/db"
	"github.com/sidequest/server/events"
	mw "github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"github.com/sidequest/server/ranking"
	"github.com/sidequest/server/scheduler"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App holds every long-lived component of a running server.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	Cache       cache.Cache
	PubSub      cache.PubSub
	Hooks       *hook.HookCenter
	Catalog     *catalog.Store
	Quests      *quest.Service
	Leaderboard *ranking.Leaderboard
	Scheduler   *scheduler.Scheduler
	Audit       *audit.Service
	Publisher   events.Publisher
}

func cacheConfig(cfg config.CacheConfig) cache.CacheConfig {
	return cache.CacheConfig{
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		RedisDB:         cfg.RedisDB,
		RedisPrefix:     cfg.RedisPrefix,
		LocalGCInterval: cfg.LocalGCInterval,
		LocalPubSubBuf:  cfg.LocalPubSubBuf,
	}
}

// NewLogger builds the process logger for cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Server.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OpenDB opens and migrates the configured database.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewApp wires the components together. Call Close when done.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if _, err := mw.ParseAllowList(cfg.Security.AdminIPs); err != nil {
		return nil, fmt.Errorf("security.admin_ips: %w", err)
	}
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	cc := cacheConfig(cfg.Cache)
	c, err := cache.NewCache(cc)
	if err != nil {
		return nil, err
	}
	ps, err := cache.NewPubSub(cc)
	if err != nil {
		return nil, err
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Cache:     c,
		PubSub:    ps,
		Hooks:     hook.NewHookCenter(),
		Catalog:   catalog.NewStore(db),
		Scheduler: scheduler.New(logger),
		Audit: audit.New(db, logger, audit.Options{
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			QueueSize:     cfg.Audit.QueueSize,
		}),
	}
	a.Hooks.SetErrorHandler(func(event, name string, err error) {
		logger.Warn("hook failed", zap.String("event", event), zap.String("hook", name), zap.Error(err))
	})

	pub := events.Multi{events.NewPubSubPublisher(ps)}
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, logger)
		if err != nil {
			// Quest events still reach SSE clients without the broker.
			logger.Error("amqp disabled", zap.Error(err))
		} else {
			pub = append(pub, amqpPub)
		}
	}
	a.Publisher = pub

	a.Leaderboard = ranking.New(db, c, logger, cfg.Quest.LeaderboardSize)
	ranking.Register(a.Hooks, a.Leaderboard)
	events.Register(a.Hooks, a.Publisher, logger)
	audit.Register(a.Hooks, a.Audit)

	a.Quests = quest.NewService(quest.NewGormStore(db), a.Catalog, logger,
		quest.WithHooks(a.Hooks),
		quest.WithMaxRetries(cfg.Quest.MaxRetries),
	)

	if cfg.Quest.LeaderboardRefresh > 0 {
		a.Scheduler.Every("leaderboard_refresh", cfg.Quest.LeaderboardRefresh, func(ctx context.Context) error {
			_, err := a.Leaderboard.Refresh(ctx)
			return err
		}, scheduler.WithTimeout(cfg.Quest.LeaderboardRefresh))
	}
	if cfg.Audit.Retention > 0 {
		a.Scheduler.Every("audit_prune", cfg.Audit.PruneInterval, func(ctx context.Context) error {
			n, err := a.Audit.Prune(ctx, time.Now().UTC().Add(-cfg.Audit.Retention))
			if n > 0 {
				logger.Info("audit rows pruned", zap.Int64("rows", n))
			}
			return err
		}, scheduler.Immediately())
	}
	return a, nil
}

// httpMetrics is shared by every router: its collectors live in the
// default Prometheus registry, which accepts them only once.
var httpMetrics = sync.OnceValue(func() *ginprometheus.Prometheus {
	return ginprometheus.NewPrometheus("gin")
})

// Router builds the HTTP handler tree.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(a.Logger), mw.Recovery(a.Logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	corsConfig := cors.DefaultConfig()
	if len(cfg.Security.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Security.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Admin-Key", mw.TraceIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))
	// Routes copy the middleware chain when added, so this precedes them.
	httpMetrics().Use(r)

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/health", healthHandler)
	r.HEAD("/health", healthHandler)

	rest.RegisterRoutes(r, rest.Deps{
		DB:          a.DB,
		Cache:       a.Cache,
		PubSub:      a.PubSub,
		Security:    cfg.Security,
		AdminKey:    cfg.Server.AdminKey,
		Catalog:     a.Catalog,
		Quests:      a.Quests,
		Leaderboard: a.Leaderboard,
		Scheduler:   a.Scheduler,
		Hooks:       a.Hooks,
		Audit:       a.Audit,
		Logger:      a.Logger,
	})

	sseH := sse.NewHandler(a.PubSub, mw.NewSessions(cfg.Security, a.Cache), a.Logger)
	r.GET("/sse", sseH.ServeSSE)
	return r
}

// SeedCatalog loads the YAML catalog at path and upserts its entries.
func (a *App) SeedCatalog(ctx context.Context, path string) (catalog.SeedResult, error) {
	f, err := catalog.LoadFile(path)
	if err != nil {
		return catalog.SeedResult{}, err
	}
	return a.Catalog.Seed(ctx, f)
}

// Close stops background work and releases connections.
func (a *App) Close(ctx context.Context) {
	a.Scheduler.Stop()
	a.Audit.Stop(ctx)
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn("publisher close", zap.Error(err))
	}
	for name, v := range map[string]interface{}{"pubsub": a.PubSub, "cache": a.Cache} {
		if err := cache.Close(v); err != nil {
			a.Logger.Warn("close", zap.String("backend", name), zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
