package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/engine"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// JobAPI handles job inspection and queue control endpoints
type JobAPI struct {
	queue  *engine.Queue
	logger *zap.Logger
}

// NewJobAPI creates a new job API
func NewJobAPI(queue *engine.Queue) *JobAPI {
	return &JobAPI{
		queue:  queue,
		logger: logging.GetLogger().With(zap.String("component", "job-api")),
	}
}

// List returns the caller's jobs, optionally filtered by status
func (a *JobAPI) List(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	jobs, err := a.queue.History(c.Request.Context(), currentUser(c), statuses, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Status returns one job by ID
func (a *JobAPI) Status(c *gin.Context) {
	job, err := a.queue.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if job.UserID != currentUser(c) {
		respondError(c, engine.ErrJobNotFound)
		return
	}

	c.JSON(http.StatusOK, job)
}

// Cancel cancels a job that has not started executing. Cancelling a job that
// already ran, or was cancelled before, reports cancelled=false.
func (a *JobAPI) Cancel(c *gin.Context) {
	jobID := c.Param("id")

	job, err := a.queue.Status(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.UserID != currentUser(c) {
		respondError(c, engine.ErrJobNotFound)
		return
	}

	cancelled, err := a.queue.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// CancelAll cancels every pending job belonging to the caller
func (a *JobAPI) CancelAll(c *gin.Context) {
	count, err := a.queue.CancelUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}

	a.logger.Info("Cancelled pending jobs",
		zap.Int64("user_id", currentUser(c)),
		zap.Int64("count", count))

	c.JSON(http.StatusOK, gin.H{"cancelled": count})
}

// Pause stops workers from executing the caller's jobs. Already claimed jobs
// go back to the queue untouched.
func (a *JobAPI) Pause(c *gin.Context) {
	if err := a.queue.PauseUser(c.Request.Context(), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume lets workers pick the caller's jobs up again
func (a *JobAPI) Resume(c *gin.Context) {
	if err := a.queue.ResumeUser(c.Request.Context(), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}
