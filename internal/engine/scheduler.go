package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
	"github.com/KennXion/follow-swarm/pkg/telemetry"
)

// ScheduleOptions controls how a batch is queued
type ScheduleOptions struct {
	// Priority applied to every job in the batch
	Priority int
	// DelayBetween spaces consecutive jobs; zero uses the configured default
	DelayBetween time.Duration
	// TargetCount caps how many targets the selector supplies when the
	// caller passes no explicit targets; zero means one
	TargetCount int
}

// Scheduler turns a set of targets into time-spaced scheduled jobs,
// all-or-nothing. The strictly increasing spacing keeps a batch from
// bursting against the platform even when the rate limiter would allow it.
type Scheduler struct {
	limiter     *RateLimiter
	selector    *Selector
	users       UserStore
	artists     TargetStore
	jobs        JobStore
	cfg         config.LimitsConfig
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

// NewScheduler creates a new batch scheduler
func NewScheduler(limiter *RateLimiter, selector *Selector, users UserStore, artists TargetStore, jobs JobStore, cfg config.LimitsConfig, maxAttempts int) *Scheduler {
	return &Scheduler{
		limiter:     limiter,
		selector:    selector,
		users:       users,
		artists:     artists,
		jobs:        jobs,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logging.GetLogger().With(zap.String("component", "batch-scheduler")),
	}
}

// Schedule validates the request and creates the batch in one transaction.
// An empty artistIDs list asks the selector for candidates. Any validation
// failure creates zero jobs:
//   - batches need a pro or premium plan (ErrSubscriptionInsufficient)
//   - the batch must fit the configured maximum (ErrBatchTooLarge)
//   - every window must have room for the whole batch (ErrRateLimitExceeded)
func (s *Scheduler) Schedule(ctx context.Context, userID int64, artistIDs []int64, opts ScheduleOptions) ([]models.QueueJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.schedule")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !models.ValidPlan(user.Plan) {
		return nil, fmt.Errorf("user %d has unknown subscription plan %q", userID, user.Plan)
	}

	if len(artistIDs) == 0 {
		count := opts.TargetCount
		if count <= 0 {
			count = 1
		}
		if count > s.cfg.MaxBatchSize {
			return nil, fmt.Errorf("%w: requested %d, max %d", ErrBatchTooLarge, count, s.cfg.MaxBatchSize)
		}
		candidates, err := s.selector.Targets(ctx, userID, count)
		if err != nil {
			return nil, err
		}
		for _, a := range candidates {
			artistIDs = append(artistIDs, a.ID)
		}
		if len(artistIDs) == 0 {
			return []models.QueueJob{}, nil
		}
	}

	if len(artistIDs) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: requested %d, max %d", ErrBatchTooLarge, len(artistIDs), s.cfg.MaxBatchSize)
	}
	if len(artistIDs) > 1 && user.Plan == models.PlanFree {
		return nil, fmt.Errorf("%w: batch follows require a paid plan", ErrSubscriptionInsufficient)
	}

	// Fail fast on targets missing from the catalogue
	artistIDs = dedupe(artistIDs)
	found, err := s.artists.GetByIDs(ctx, artistIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to validate targets: %w", err)
	}
	if len(found) != len(artistIDs) {
		return nil, ErrTargetUnknown
	}

	// The whole batch must fit the remaining quota; partial scheduling is
	// never attempted (reject-all policy)
	snapshot, err := s.limiter.Check(ctx, userID, user.Plan)
	if err != nil {
		return nil, err
	}
	if !snapshot.CanFollow {
		return nil, &RateLimitError{Snapshot: snapshot}
	}
	if remaining := snapshot.Remaining(); remaining != Unlimited && remaining < int64(len(artistIDs)) {
		return nil, &RateLimitError{Snapshot: snapshot}
	}

	// Caller-supplied spacing is clamped into the configured bounds; too
	// tight a spacing would burst against the platform
	delay := opts.DelayBetween
	if delay <= 0 {
		delay = s.cfg.DelayBetween
	}
	if s.cfg.MinDelay > 0 && delay < s.cfg.MinDelay {
		delay = s.cfg.MinDelay
	}
	if s.cfg.MaxDelay > 0 && delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}

	now := s.now().UTC()
	jobs := make([]models.QueueJob, 0, len(artistIDs))
	for i, artistID := range artistIDs {
		jobs = append(jobs, models.QueueJob{
			ID:          uuid.NewString(),
			UserID:      userID,
			JobType:     models.JobTypeFollow,
			ArtistID:    artistID,
			Priority:    opts.Priority,
			MaxAttempts: s.maxAttempts,
			Status:      models.JobStatusScheduled,
			ScheduledAt: now.Add(time.Duration(i) * delay),
			CreatedAt:   now,
		})
	}

	if err := s.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.logger.Info("Batch scheduled",
		zap.Int64("user_id", userID),
		zap.Int("jobs", len(jobs)),
		zap.Duration("delay_between", delay))

	return jobs, nil
}

// ErrInvalid reports whether err is a request-time validation failure the
// caller should treat as a bad request rather than an infrastructure fault
func ErrInvalid(err error) bool {
	return errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrSubscriptionInsufficient) ||
		errors.Is(err, ErrTargetUnknown)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
