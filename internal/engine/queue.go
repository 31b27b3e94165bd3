package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// Queue is the durable, priority-ordered job store. Persistence lives in the
// JobStore; the queue adds payload validation, the global dequeue toggle,
// per-user pausing and the state machine rules:
//
//	scheduled -> queued -> active -> completed | failed | cancelled
//
// cancelled is reachable from scheduled and queued only, and terminal states
// are absorbing. Claiming is the single point of mutual exclusion between
// workers; the store guarantees a job is claimed by at most one.
type Queue struct {
	store   JobStore
	records FollowStore
	limiter *RateLimiter
	cache   *cache.Cache
	now     func() time.Time
	logger  *zap.Logger

	paused atomic.Bool

	// Per-user pause flags when no cache is available
	mu          sync.Mutex
	pausedUsers map[int64]bool
}

// NewQueue creates a new job queue
func NewQueue(store JobStore, records FollowStore, limiter *RateLimiter, redisCache *cache.Cache) *Queue {
	return &Queue{
		store:       store,
		records:     records,
		limiter:     limiter,
		cache:       redisCache,
		now:         time.Now,
		logger:      logging.GetLogger().With(zap.String("component", "job-queue")),
		pausedUsers: make(map[int64]bool),
	}
}

// Enqueue validates and persists a single job, returning its ID. Malformed
// payloads fail here rather than at execution.
func (q *Queue) Enqueue(ctx context.Context, job *models.QueueJob) (string, error) {
	if job.JobType != models.JobTypeFollow {
		return "", fmt.Errorf("unknown job type %q", job.JobType)
	}
	if job.UserID <= 0 {
		return "", fmt.Errorf("job requires a user")
	}
	if job.ArtistID <= 0 {
		return "", fmt.Errorf("follow job requires a target artist")
	}
	if job.MaxAttempts <= 0 {
		return "", fmt.Errorf("job requires positive max attempts")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := q.now().UTC()
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.Status = models.JobStatusScheduled

	if err := q.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return job.ID, nil
}

// Status retrieves a job by ID
func (q *Queue) Status(ctx context.Context, jobID string) (*models.QueueJob, error) {
	job, err := q.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel cancels a job if it has not started executing. Cancelling a job in
// a terminal state is a no-op returning false; an active job runs to
// completion and also returns false. A job that already failed transiently
// holds a pending follow record across requeues; cancelling it also cancels
// that record so its quota reservation frees immediately.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := q.store.GetByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return false, ErrJobNotFound
	}
	if !job.Cancellable() {
		return false, nil
	}

	cancelled, err := q.store.CancelIfPending(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if cancelled {
		q.cancelRecord(ctx, job.UserID, job.ArtistID)
		q.logger.Info("Job cancelled", zap.String("job_id", jobID))
	}
	return cancelled, nil
}

// CancelUser cancels every scheduled and queued job for a user and returns
// the exact count transitioned. Pending follow records held by the cancelled
// jobs are cancelled with them.
func (q *Queue) CancelUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	for {
		jobs, err := q.store.ListByUser(ctx, userID,
			[]string{models.JobStatusScheduled, models.JobStatusQueued}, 500)
		if err != nil {
			return count, fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}

		progressed := false
		for _, job := range jobs {
			cancelled, err := q.store.CancelIfPending(ctx, job.ID)
			if err != nil {
				return count, fmt.Errorf("failed to cancel job: %w", err)
			}
			if cancelled {
				count++
				progressed = true
				q.cancelRecord(ctx, job.UserID, job.ArtistID)
			}
		}
		// A job claimed between list and cancel is no longer ours to cancel
		if !progressed {
			break
		}
	}

	if count > 0 {
		q.logger.Info("User jobs cancelled", zap.Int64("user_id", userID), zap.Int64("count", count))
	}
	return count, nil
}

// cancelRecord moves a cancelled job's pending follow record to cancelled
// and frees its quota reservation. Records in any other state are left
// alone: completed follows stand, and failed records already released.
func (q *Queue) cancelRecord(ctx context.Context, userID, artistID int64) {
	record, err := q.records.FindActive(ctx, userID, artistID)
	if err != nil {
		q.logger.Error("Failed to load follow record for cancelled job",
			zap.Int64("user_id", userID), zap.Int64("artist_id", artistID), zap.Error(err))
		return
	}
	if record == nil || record.Status != models.FollowStatusPending {
		return
	}

	record.Status = models.FollowStatusCancelled
	if err := q.records.Update(ctx, record); err != nil {
		q.logger.Error("Failed to cancel follow record",
			zap.String("record_id", record.ID), zap.Error(err))
		return
	}
	q.limiter.Release(ctx, userID, record.CreatedAt)
}

// Pause stops all dequeuing process-wide
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.logger.Info("Queue paused")
}

// Resume restarts dequeuing
func (q *Queue) Resume() {
	q.paused.Store(false)
	q.logger.Info("Queue resumed")
}

// Paused reports the global dequeue toggle
func (q *Queue) Paused() bool {
	return q.paused.Load()
}

func userPauseKey(userID int64) string {
	return fmt.Sprintf("paused:%d", userID)
}

// PauseUser stops dequeuing the given user's jobs
func (q *Queue) PauseUser(ctx context.Context, userID int64) error {
	if err := q.cache.SetFlag(ctx, userPauseKey(userID)); err != nil {
		if err != cache.ErrCacheDisabled {
			return fmt.Errorf("failed to pause user: %w", err)
		}
		q.mu.Lock()
		q.pausedUsers[userID] = true
		q.mu.Unlock()
	}
	q.logger.Info("User queue paused", zap.Int64("user_id", userID))
	return nil
}

// ResumeUser restarts dequeuing the given user's jobs
func (q *Queue) ResumeUser(ctx context.Context, userID int64) error {
	if err := q.cache.ClearFlag(ctx, userPauseKey(userID)); err != nil {
		if err != cache.ErrCacheDisabled {
			return fmt.Errorf("failed to resume user: %w", err)
		}
		q.mu.Lock()
		delete(q.pausedUsers, userID)
		q.mu.Unlock()
	}
	q.logger.Info("User queue resumed", zap.Int64("user_id", userID))
	return nil
}

// UserPaused reports whether the user's queue is paused
func (q *Queue) UserPaused(ctx context.Context, userID int64) bool {
	has, err := q.cache.HasFlag(ctx, userPauseKey(userID))
	if err == nil {
		return has
	}
	if err != cache.ErrCacheDisabled {
		q.logger.Warn("Failed to read user pause flag", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pausedUsers[userID]
}

// PromoteDue moves due scheduled jobs into the queued state
func (q *Queue) PromoteDue(ctx context.Context) (int64, error) {
	count, err := q.store.PromoteDue(ctx, q.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to promote due jobs: %w", err)
	}
	return count, nil
}

// Claim atomically claims the next runnable job for a worker, or nil when
// the queue is paused or empty. The claim increments the job's attempt
// counter.
func (q *Queue) Claim(ctx context.Context) (*models.QueueJob, error) {
	if q.Paused() {
		return nil, nil
	}
	job, err := q.store.ClaimNext(ctx, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// Requeue returns an active job to the scheduled state for a later retry
func (q *Queue) Requeue(ctx context.Context, job *models.QueueJob, delay time.Duration) error {
	job.Status = models.JobStatusScheduled
	job.ScheduledAt = q.now().UTC().Add(delay)
	if err := q.store.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// Release returns a claimed job untouched, refunding the attempt the claim
// consumed. Used when the job could not be started at all, such as when its
// user's queue is paused.
func (q *Queue) Release(ctx context.Context, job *models.QueueJob, delay time.Duration) error {
	if job.Attempts > 0 {
		job.Attempts--
	}
	return q.Requeue(ctx, job, delay)
}

// Complete transitions a job to its terminal state. Terminal states are
// absorbing: completing an already finished job is a no-op.
func (q *Queue) Complete(ctx context.Context, job *models.QueueJob, status, lastError string) error {
	if job.Terminal() {
		return nil
	}
	job.Status = status
	job.CompletedAt.Time = q.now().UTC()
	job.CompletedAt.Valid = true
	if lastError != "" {
		job.LastError.String = lastError
		job.LastError.Valid = true
	}
	if err := q.store.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	return nil
}

// History retrieves a user's jobs filtered by status
func (q *Queue) History(ctx context.Context, userID int64, statuses []string, limit int) ([]models.QueueJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return q.store.ListByUser(ctx, userID, statuses, limit)
}
