package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/internal/db"
	"github.com/KennXion/follow-swarm/internal/engine"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// Router sets up API routes
type Router struct {
	follows *FollowAPI
	jobs    *JobAPI
	db      *db.DB
	cache   *cache.Cache
	logger  *zap.Logger
}

// NewRouter creates a new API router wired to the engine components
func NewRouter(database *db.DB, redisCache *cache.Cache, cfg *config.Config) *Router {
	repo := db.NewRepository(database.DB)

	users := db.NewUserRepository(repo)
	artists := db.NewArtistRepository(repo)
	records := db.NewFollowRecordRepository(repo)
	jobs := db.NewQueueJobRepository(repo)
	stats := db.NewDailyStatRepository(repo)

	limiter := engine.NewRateLimiter(records, redisCache, cfg.Limits)
	selector := engine.NewSelector(artists)
	scheduler := engine.NewScheduler(limiter, selector, users, artists, jobs, cfg.Limits, cfg.Queue.MaxAttempts)
	queue := engine.NewQueue(jobs, records, limiter, redisCache)
	analytics := engine.NewAnalytics(stats, records)

	return &Router{
		follows: NewFollowAPI(scheduler, selector, limiter, analytics, users, records),
		jobs:    NewJobAPI(queue),
		db:      database,
		cache:   redisCache,
		logger:  logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	api := engine.Group("/api", requireUser())
	{
		api.POST("/follows", r.follows.Create)
		api.POST("/follows/batch", r.follows.CreateBatch)
		api.GET("/follows/limits", r.follows.Limits)
		api.GET("/follows/history", r.follows.History)
		api.GET("/follows/suggestions", r.follows.Suggestions)
		api.GET("/stats", r.follows.Stats)

		api.GET("/jobs", r.jobs.List)
		api.GET("/jobs/:id", r.jobs.Status)
		api.DELETE("/jobs/:id", r.jobs.Cancel)
		api.POST("/jobs/cancel-all", r.jobs.CancelAll)
		api.POST("/queue/pause", r.jobs.Pause)
		api.POST("/queue/resume", r.jobs.Resume)
	}
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	status := http.StatusOK
	dbState := "OK"
	if err := r.db.Health(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		dbState = err.Error()
	}
	// A missing cache degrades counting but does not fail the service
	cacheState := "OK"
	if err := r.cache.Health(c.Request.Context()); err != nil {
		cacheState = err.Error()
	}
	c.JSON(status, gin.H{
		"status":   "OK",
		"service":  "follow-swarm-api",
		"database": dbState,
		"redis":    cacheState,
	})
}

const userIDKey = "userID"

// requireUser resolves the authenticated user from the X-User-ID header set
// by the auth proxy in front of this service
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-ID header"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}
