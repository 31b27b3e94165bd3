package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// Unlimited is the sentinel limit reported for windows without a cap
const Unlimited int64 = -1

// Window is a fixed time bucket over which follow attempts are capped.
// Window starts are aligned to floor(now/size)*size, so counters self-expire
// at the boundary without explicit cleanup.
type Window struct {
	Name string
	Size time.Duration
}

var (
	windowHourly  = Window{Name: "hourly", Size: time.Hour}
	windowDaily   = Window{Name: "daily", Size: 24 * time.Hour}
	windowMonthly = Window{Name: "monthly", Size: 30 * 24 * time.Hour}

	allWindows = []Window{windowHourly, windowDaily, windowMonthly}
)

// Start returns the window start containing t
func (w Window) Start(t time.Time) time.Time {
	return t.UTC().Truncate(w.Size)
}

// End returns the end of the window containing t
func (w Window) End(t time.Time) time.Time {
	return w.Start(t).Add(w.Size)
}

// WindowStatus reports one window's usage. Limit is Unlimited (-1) for
// uncapped windows.
type WindowStatus struct {
	Count     int64 `json:"count"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// LimitSnapshot is the result of a rate limit check
type LimitSnapshot struct {
	CanFollow         bool         `json:"canFollow"`
	Hourly            WindowStatus `json:"hourly"`
	Daily             WindowStatus `json:"daily"`
	Monthly           WindowStatus `json:"monthly"`
	NextAvailableSlot *time.Time   `json:"nextAvailableSlot,omitempty"`
}

// Remaining returns the tightest remaining budget across all windows
func (s *LimitSnapshot) Remaining() int64 {
	min := Unlimited
	for _, ws := range []WindowStatus{s.Hourly, s.Daily, s.Monthly} {
		if ws.Limit == Unlimited {
			continue
		}
		if min == Unlimited || ws.Remaining < min {
			min = ws.Remaining
		}
	}
	return min
}

// RateLimiter answers whether a user may act now against tiered, windowed
// quotas, and reserves capacity atomically when execution begins. Counts
// derive from follow records in pending or completed state; failed and
// cancelled records free their reservation immediately.
type RateLimiter struct {
	records FollowStore
	cache   *cache.Cache
	cfg     config.LimitsConfig
	now     func() time.Time
	logger  *zap.Logger

	// Serializes reservations per user when no cache is available.
	mu      sync.Mutex
	userMus map[int64]*sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(records FollowStore, redisCache *cache.Cache, cfg config.LimitsConfig) *RateLimiter {
	return &RateLimiter{
		records: records,
		cache:   redisCache,
		cfg:     cfg,
		now:     time.Now,
		logger:  logging.GetLogger().With(zap.String("component", "rate-limiter")),
		userMus: make(map[int64]*sync.Mutex),
	}
}

// limitFor returns the cap for a window given the user's plan
func (l *RateLimiter) limitFor(w Window, plan string) int64 {
	switch w.Name {
	case windowHourly.Name:
		return int64(l.cfg.HourlyLimit)
	case windowDaily.Name:
		return int64(l.cfg.DailyLimit)
	default:
		switch plan {
		case models.PlanPremium:
			return Unlimited
		case models.PlanPro:
			return int64(l.cfg.MonthlyPro)
		default:
			return int64(l.cfg.MonthlyFree)
		}
	}
}

func counterKey(userID int64, w Window, start time.Time) string {
	return fmt.Sprintf("ratelimit:%d:%s:%d", userID, w.Name, start.Unix())
}

// count returns the user's quota-consuming follows in the window containing
// now, preferring the cached counter and recomputing from the database when
// the cache is cold or absent.
func (l *RateLimiter) count(ctx context.Context, userID int64, w Window) (int64, error) {
	now := l.now()
	start := w.Start(now)

	if val, ok, err := l.cache.GetInt(ctx, counterKey(userID, w, start)); err == nil && ok {
		return val, nil
	}

	return l.records.CountInWindow(ctx, userID, start, start.Add(w.Size))
}

// Check reports whether the user can follow right now, with per-window usage.
// When the user is over limit, NextAvailableSlot is the end of the
// soonest-resetting exceeded window.
func (l *RateLimiter) Check(ctx context.Context, userID int64, plan string) (*LimitSnapshot, error) {
	now := l.now()
	snapshot := &LimitSnapshot{CanFollow: true}

	var nextSlot time.Time
	for _, w := range allWindows {
		n, err := l.count(ctx, userID, w)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s window: %w", w.Name, err)
		}

		status := windowStatus(n, l.limitFor(w, plan))
		if status.Limit != Unlimited && status.Count >= status.Limit {
			snapshot.CanFollow = false
			end := w.End(now)
			if nextSlot.IsZero() || end.Before(nextSlot) {
				nextSlot = end
			}
		}
		snapshot.setWindow(w, status)
	}

	if !snapshot.CanFollow {
		snapshot.NextAvailableSlot = &nextSlot
	}
	return snapshot, nil
}

// Reserve atomically claims one slot in every window and runs commit while
// the reservation is held. With a cache the reservation is an
// increment-and-compare on the shared counters, safe across processes.
// Without one, a per-user mutex serializes the count against the commit,
// which itself persists the pending record the next count will see.
// A failed commit rolls the reservation back.
func (l *RateLimiter) Reserve(ctx context.Context, userID int64, plan string, commit func(context.Context) error) (*LimitSnapshot, error) {
	if l.cache != nil {
		return l.reserveCached(ctx, userID, plan, commit)
	}
	return l.reserveLocked(ctx, userID, plan, commit)
}

func (l *RateLimiter) reserveCached(ctx context.Context, userID int64, plan string, commit func(context.Context) error) (*LimitSnapshot, error) {
	now := l.now()
	var reserved []Window

	rollback := func() {
		for _, w := range reserved {
			if err := l.cache.Decr(ctx, counterKey(userID, w, w.Start(now))); err != nil {
				l.logger.Warn("Failed to roll back window counter",
					zap.Int64("user_id", userID), zap.String("window", w.Name), zap.Error(err))
			}
		}
	}

	snapshot := &LimitSnapshot{CanFollow: true}
	for _, w := range allWindows {
		start := w.Start(now)
		key := counterKey(userID, w, start)

		// Seed a cold counter from the database before incrementing so the
		// cached count never undercounts records created before this process
		if _, ok, err := l.cache.GetInt(ctx, key); err != nil {
			rollback()
			return nil, fmt.Errorf("failed to read %s counter: %w", w.Name, err)
		} else if !ok {
			dbCount, err := l.records.CountInWindow(ctx, userID, start, start.Add(w.Size))
			if err != nil {
				rollback()
				return nil, fmt.Errorf("failed to seed %s counter: %w", w.Name, err)
			}
			ttl := time.Until(start.Add(w.Size))
			if _, err := l.cache.SetNX(ctx, key, dbCount, ttl); err != nil {
				rollback()
				return nil, fmt.Errorf("failed to seed %s counter: %w", w.Name, err)
			}
		}

		val, err := l.cache.Incr(ctx, key, time.Until(start.Add(w.Size)))
		if err != nil {
			rollback()
			return nil, fmt.Errorf("failed to increment %s counter: %w", w.Name, err)
		}

		limit := l.limitFor(w, plan)
		if limit != Unlimited && val > limit {
			// Over limit: undo this increment and the earlier reservations
			if derr := l.cache.Decr(ctx, key); derr != nil {
				l.logger.Warn("Failed to roll back window counter",
					zap.Int64("user_id", userID), zap.String("window", w.Name), zap.Error(derr))
			}
			rollback()

			full, err := l.Check(ctx, userID, plan)
			if err != nil {
				return nil, err
			}
			return nil, &RateLimitError{Snapshot: full}
		}

		reserved = append(reserved, w)
		snapshot.setWindow(w, windowStatus(val, limit))
	}

	if err := commit(ctx); err != nil {
		rollback()
		return nil, err
	}
	return snapshot, nil
}

func (l *RateLimiter) reserveLocked(ctx context.Context, userID int64, plan string, commit func(context.Context) error) (*LimitSnapshot, error) {
	mu := l.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	snapshot, err := l.Check(ctx, userID, plan)
	if err != nil {
		return nil, err
	}
	if !snapshot.CanFollow {
		return nil, &RateLimitError{Snapshot: snapshot}
	}

	if err := commit(ctx); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Release frees a reservation when a pending record leaves the quota
// (failed or cancelled before its window expired). createdAt locates the
// windows the reservation was counted in; counters for windows that have
// already rolled over expired with their keys.
func (l *RateLimiter) Release(ctx context.Context, userID int64, createdAt time.Time) {
	if l.cache == nil {
		return // DB counts stop including the record as soon as its status changes
	}
	for _, w := range allWindows {
		if err := l.cache.Decr(ctx, counterKey(userID, w, w.Start(createdAt))); err != nil && err != cache.ErrCacheDisabled {
			l.logger.Warn("Failed to release window counter",
				zap.Int64("user_id", userID), zap.String("window", w.Name), zap.Error(err))
		}
	}
}

func (l *RateLimiter) userMutex(userID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.userMus[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.userMus[userID] = mu
	}
	return mu
}

func windowStatus(count, limit int64) WindowStatus {
	status := WindowStatus{Count: count, Limit: limit, Remaining: Unlimited}
	if limit != Unlimited {
		status.Remaining = limit - count
		if status.Remaining < 0 {
			status.Remaining = 0
		}
	}
	return status
}

func (s *LimitSnapshot) setWindow(w Window, status WindowStatus) {
	switch w.Name {
	case windowHourly.Name:
		s.Hourly = status
	case windowDaily.Name:
		s.Daily = status
	default:
		s.Monthly = status
	}
}
