package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/engine"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// FollowAPI handles follow scheduling and reporting endpoints
type FollowAPI struct {
	scheduler *engine.Scheduler
	selector  *engine.Selector
	limiter   *engine.RateLimiter
	analytics *engine.Analytics
	users     engine.UserStore
	records   engine.FollowStore
	logger    *zap.Logger
}

// NewFollowAPI creates a new follow API
func NewFollowAPI(scheduler *engine.Scheduler, selector *engine.Selector, limiter *engine.RateLimiter, analytics *engine.Analytics, users engine.UserStore, records engine.FollowStore) *FollowAPI {
	return &FollowAPI{
		scheduler: scheduler,
		selector:  selector,
		limiter:   limiter,
		analytics: analytics,
		users:     users,
		records:   records,
		logger:    logging.GetLogger().With(zap.String("component", "follow-api")),
	}
}

type createFollowRequest struct {
	ArtistID int64 `json:"artistId" binding:"required"`
	Priority int   `json:"priority"`
}

// Create schedules a single follow job
func (a *FollowAPI) Create(c *gin.Context) {
	var req createFollowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := a.scheduler.Schedule(c.Request.Context(), currentUser(c), []int64{req.ArtistID}, engine.ScheduleOptions{
		Priority: req.Priority,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobs": jobs})
}

type createBatchRequest struct {
	ArtistIDs    []int64 `json:"artistIds"`
	TargetCount  int     `json:"targetCount"`
	Priority     int     `json:"priority"`
	DelaySeconds int     `json:"delaySeconds"`
}

// CreateBatch schedules a batch of follow jobs, all or nothing. Passing no
// artist IDs asks the target selector for candidates.
func (a *FollowAPI) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := a.scheduler.Schedule(c.Request.Context(), currentUser(c), req.ArtistIDs, engine.ScheduleOptions{
		Priority:     req.Priority,
		DelayBetween: time.Duration(req.DelaySeconds) * time.Second,
		TargetCount:  req.TargetCount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobs": jobs, "scheduled": len(jobs)})
}

// Limits reports the caller's current rate limit usage across all windows
func (a *FollowAPI) Limits(c *gin.Context) {
	userID := currentUser(c)

	user, err := a.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if user == nil {
		respondError(c, engine.ErrUserNotFound)
		return
	}

	snapshot, err := a.limiter.Check(c.Request.Context(), userID, user.Plan)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// History lists the caller's follow records, newest first
func (a *FollowAPI) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var since time.Time
	if days, err := strconv.Atoi(c.Query("days")); err == nil && days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	records, err := a.records.History(c.Request.Context(), currentUser(c), since, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"follows": records})
}

// Suggestions returns candidate targets the caller has not followed yet
func (a *FollowAPI) Suggestions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	artists, err := a.selector.Targets(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"artists": artists})
}

// Stats returns aggregate follow statistics over a period such as 7d or 30d
func (a *FollowAPI) Stats(c *gin.Context) {
	period := c.DefaultQuery("period", "30d")

	report, err := a.analytics.Stats(c.Request.Context(), currentUser(c), period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}
