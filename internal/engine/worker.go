package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/internal/spotify"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
	"github.com/KennXion/follow-swarm/pkg/telemetry"
)

// pausedRetryDelay is how long a claimed job waits when its user's queue
// turned out to be paused
const pausedRetryDelay = 30 * time.Second

// infraRetryDelay is how long a claimed job waits after an infrastructure
// failure that prevented it from starting at all
const infraRetryDelay = 15 * time.Second

// FollowClient performs the external follow action
type FollowClient interface {
	Follow(ctx context.Context, token, artistSpotifyID string) error
}

// Pool runs a set of workers that claim active jobs, perform the external
// follow and record the outcome. The queue guarantees each job is claimed by
// at most one worker; re-execution against an already completed follow
// record is a safe no-op, so at-least-once delivery is tolerated.
type Pool struct {
	queue   *Queue
	limiter *RateLimiter
	records FollowStore
	users   UserStore
	artists TargetStore
	tokens  spotify.TokenProvider
	client  FollowClient
	events  chan<- Event
	cfg     config.QueueConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(queue *Queue, limiter *RateLimiter, records FollowStore, users UserStore, artists TargetStore, tokens spotify.TokenProvider, client FollowClient, events chan<- Event, cfg config.QueueConfig) *Pool {
	return &Pool{
		queue:   queue,
		limiter: limiter,
		records: records,
		users:   users,
		artists: artists,
		tokens:  tokens,
		client:  client,
		events:  events,
		cfg:     cfg,
		now:     time.Now,
		logger:  logging.GetLogger().With(zap.String("component", "job-worker")),
	}
}

// Run starts the configured number of workers and blocks until ctx is done
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Starting worker pool", zap.Int("workers", p.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	wg.Wait()
	p.logger.Info("Worker pool stopped")
	return ctx.Err()
}

// runWorker polls the queue for jobs until ctx is done
func (p *Pool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			logger.Error("Failed to claim job", zap.Error(err))
			p.wait(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.wait(ctx, p.cfg.PollInterval)
			continue
		}

		p.process(ctx, job)
	}
}

// process executes one claimed job end to end
func (p *Pool) process(ctx context.Context, job *models.QueueJob) {
	ctx, span := telemetry.StartSpan(ctx, "engine.process_job")
	defer span.End()

	logger := p.logger.With(
		zap.String("job_id", job.ID),
		zap.Int64("user_id", job.UserID),
		zap.Int64("artist_id", job.ArtistID),
		zap.Int("attempt", job.Attempts))

	// Pause is advisory and non-preemptive: a paused user's claimed job goes
	// back untouched, with its attempt refunded
	if p.queue.UserPaused(ctx, job.UserID) {
		if err := p.queue.Release(ctx, job, pausedRetryDelay); err != nil {
			logger.Error("Failed to release paused job", zap.Error(err))
		}
		return
	}

	user, err := p.users.GetByID(ctx, job.UserID)
	if err != nil {
		p.releaseForInfra(ctx, job, logger, err)
		return
	}
	if user == nil {
		p.fail(ctx, job, nil, "user no longer exists", logger)
		return
	}

	artist, err := p.artists.GetByID(ctx, job.ArtistID)
	if err != nil {
		p.releaseForInfra(ctx, job, logger, err)
		return
	}
	if artist == nil {
		p.fail(ctx, job, nil, ErrTargetUnknown.Error(), logger)
		return
	}

	record, err := p.records.FindActive(ctx, job.UserID, job.ArtistID)
	if err != nil {
		p.releaseForInfra(ctx, job, logger, err)
		return
	}

	// A completed record means a previous delivery already followed this
	// target; finishing the job without re-executing keeps redelivery safe
	if record != nil && record.Status == models.FollowStatusCompleted {
		logger.Info("Target already followed, completing job")
		if err := p.queue.Complete(ctx, job, models.JobStatusCompleted, ""); err != nil {
			logger.Error("Failed to complete job", zap.Error(err))
		}
		return
	}

	// First execution creates the pending record under a quota reservation.
	// A retry reuses its pending record; the reservation is already held.
	if record == nil {
		record, err = p.reserve(ctx, job, user.Plan, logger)
		if record == nil {
			if err != nil {
				p.releaseForInfra(ctx, job, logger, err)
			}
			return
		}
	}

	token, err := p.tokens.AccessToken(ctx, job.UserID)
	if err != nil {
		// Credential failures are permanent: no retry regardless of attempts
		p.fail(ctx, job, record, fmt.Sprintf("%v: %v", ErrAuthRequired, err), logger)
		return
	}

	actionCtx, cancel := context.WithTimeout(ctx, p.cfg.ActionTimeout)
	err = p.client.Follow(actionCtx, token, artist.SpotifyID)
	cancel()

	switch {
	case err == nil, errors.Is(err, spotify.ErrAlreadyFollowing):
		p.succeed(ctx, job, record, logger)
	case errors.Is(err, spotify.ErrAuth):
		p.fail(ctx, job, record, fmt.Sprintf("%v: %v", ErrAuthRequired, err), logger)
	case spotify.Permanent(err):
		p.fail(ctx, job, record, err.Error(), logger)
	default:
		p.retryOrFail(ctx, job, record, err, logger)
	}
}

// reserve claims quota and creates the pending follow record atomically.
// Returns nil record when the job was requeued; a non-nil error reports an
// infrastructure failure.
func (p *Pool) reserve(ctx context.Context, job *models.QueueJob, plan string, logger *zap.Logger) (*models.FollowRecord, error) {
	var record *models.FollowRecord
	_, err := p.limiter.Reserve(ctx, job.UserID, plan, func(ctx context.Context) error {
		record = &models.FollowRecord{
			ID:        uuid.NewString(),
			UserID:    job.UserID,
			ArtistID:  job.ArtistID,
			Status:    models.FollowStatusPending,
			CreatedAt: p.now().UTC(),
		}
		return p.records.Create(ctx, record)
	})
	if err == nil {
		return record, nil
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		// Quota raced away since scheduling: park the job until the next
		// slot opens, without consuming an attempt
		delay := pausedRetryDelay
		if rle.Snapshot != nil && rle.Snapshot.NextAvailableSlot != nil {
			if d := time.Until(*rle.Snapshot.NextAvailableSlot); d > 0 {
				delay = d
			}
		}
		logger.Info("Quota exhausted at execution, deferring job", zap.Duration("delay", delay))
		if rerr := p.queue.Release(ctx, job, delay); rerr != nil {
			logger.Error("Failed to defer job", zap.Error(rerr))
		}
		return nil, nil
	}
	return nil, err
}

// succeed finalizes a successful follow
func (p *Pool) succeed(ctx context.Context, job *models.QueueJob, record *models.FollowRecord, logger *zap.Logger) {
	record.Status = models.FollowStatusCompleted
	record.CompletedAt.Time = p.now().UTC()
	record.CompletedAt.Valid = true
	if err := p.records.Update(ctx, record); err != nil {
		logger.Error("Failed to finalize follow record", zap.Error(err))
	}

	if err := p.queue.Complete(ctx, job, models.JobStatusCompleted, ""); err != nil {
		logger.Error("Failed to complete job", zap.Error(err))
	}

	if err := p.users.IncrementFollowsGiven(ctx, job.UserID); err != nil {
		logger.Warn("Failed to bump lifetime follow counter", zap.Error(err))
	}

	p.emit(Event{
		UserID:   job.UserID,
		ArtistID: job.ArtistID,
		JobID:    job.ID,
		Outcome:  OutcomeCompleted,
		At:       p.now().UTC(),
	}, logger)

	logger.Info("Follow completed", zap.Int("attempts", job.Attempts))
}

// retryOrFail handles a transient failure: requeue with backoff while
// attempts remain, otherwise fail for good
func (p *Pool) retryOrFail(ctx context.Context, job *models.QueueJob, record *models.FollowRecord, cause error, logger *zap.Logger) {
	msg := fmt.Sprintf("%v: %v", ErrExternalService, cause)

	if job.Attempts < job.MaxAttempts {
		delay := retryDelay(job.Attempts)
		logger.Warn("Transient failure, retrying",
			zap.Duration("delay", delay),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(cause))
		// The pending record keeps its quota reservation across retries
		if err := p.queue.Requeue(ctx, job, delay); err != nil {
			logger.Error("Failed to requeue job", zap.Error(err))
		}
		return
	}

	p.fail(ctx, job, record, msg, logger)
}

// fail finalizes a failed job, freeing the record's quota reservation
func (p *Pool) fail(ctx context.Context, job *models.QueueJob, record *models.FollowRecord, msg string, logger *zap.Logger) {
	if record != nil {
		record.Status = models.FollowStatusFailed
		record.ErrorMessage.String = msg
		record.ErrorMessage.Valid = true
		if err := p.records.Update(ctx, record); err != nil {
			logger.Error("Failed to update follow record", zap.Error(err))
		}
		// Failed records never reach completed, so their reservation frees now
		p.limiter.Release(ctx, job.UserID, record.CreatedAt)
	}

	if err := p.queue.Complete(ctx, job, models.JobStatusFailed, msg); err != nil {
		logger.Error("Failed to finalize job", zap.Error(err))
	}

	p.emit(Event{
		UserID:   job.UserID,
		ArtistID: job.ArtistID,
		JobID:    job.ID,
		Outcome:  OutcomeFailed,
		At:       p.now().UTC(),
	}, logger)

	logger.Warn("Follow failed", zap.String("error", msg), zap.Int("attempts", job.Attempts))
}

// releaseForInfra returns a job after an infrastructure error, refunding the
// claim's attempt
func (p *Pool) releaseForInfra(ctx context.Context, job *models.QueueJob, logger *zap.Logger, cause error) {
	logger.Error("Infrastructure failure, releasing job", zap.Error(cause))
	if err := p.queue.Release(ctx, job, infraRetryDelay); err != nil {
		logger.Error("Failed to release job", zap.Error(err))
	}
}

// emit publishes an event without ever blocking a worker
func (p *Pool) emit(ev Event, logger *zap.Logger) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		logger.Warn("Event channel full, dropping event")
	}
}

// wait sleeps for d or until ctx is done
func (p *Pool) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// retryDelay computes the backoff before retry number attempt+1
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxInterval = 15 * time.Minute

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
