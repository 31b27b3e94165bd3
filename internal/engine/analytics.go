package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// Summary totals follow records by outcome over a period
type Summary struct {
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// DailyCount is one day's completed follows
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// StatsReport is the aggregate view returned to callers
type StatsReport struct {
	Summary Summary      `json:"summary"`
	Daily   []DailyCount `json:"daily"`
}

// Analytics aggregates daily statistics from completed work. It consumes the
// worker pool's event channel rather than being called inline.
type Analytics struct {
	stats   StatStore
	records FollowStore
	now     func() time.Time
	logger  *zap.Logger
}

// NewAnalytics creates a new analytics recorder
func NewAnalytics(stats StatStore, records FollowStore) *Analytics {
	return &Analytics{
		stats:   stats,
		records: records,
		now:     time.Now,
		logger:  logging.GetLogger().With(zap.String("component", "analytics")),
	}
}

// Run consumes completion events until ctx is done
func (a *Analytics) Run(ctx context.Context, events <-chan Event) {
	a.logger.Info("Analytics recorder started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Analytics recorder stopped")
			return
		case ev := <-events:
			if ev.Outcome != OutcomeCompleted {
				continue
			}
			if err := a.RecordCompletion(ctx, ev.UserID, ev.At); err != nil {
				a.logger.Error("Failed to record completion",
					zap.Int64("user_id", ev.UserID), zap.Error(err))
			}
		}
	}
}

// RecordCompletion increments the user's daily follow count for the given
// date, creating the row when absent
func (a *Analytics) RecordCompletion(ctx context.Context, userID int64, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)
	if err := a.stats.Increment(ctx, userID, day); err != nil {
		return fmt.Errorf("failed to increment daily stat: %w", err)
	}
	return nil
}

// Stats aggregates follow records and daily stats over a period such as
// "7d", "30d" or "all"
func (a *Analytics) Stats(ctx context.Context, userID int64, period string) (*StatsReport, error) {
	since, err := a.periodStart(period)
	if err != nil {
		return nil, err
	}

	counts, err := a.records.StatusCounts(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}

	summary := Summary{
		Completed: counts[models.FollowStatusCompleted],
		Pending:   counts[models.FollowStatusPending],
		Failed:    counts[models.FollowStatusFailed],
	}
	for _, n := range counts {
		summary.Total += n
	}

	stats, err := a.stats.Range(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}

	daily := make([]DailyCount, 0, len(stats))
	for _, s := range stats {
		daily = append(daily, DailyCount{
			Date:  s.Date.Format("2006-01-02"),
			Count: s.FollowsCount,
		})
	}

	return &StatsReport{Summary: summary, Daily: daily}, nil
}

// periodStart parses "all" or "<n>d" into a cutoff; zero time means no cutoff
func (a *Analytics) periodStart(period string) (time.Time, error) {
	if period == "" || period == "all" {
		return time.Time{}, nil
	}
	if !strings.HasSuffix(period, "d") {
		return time.Time{}, fmt.Errorf("invalid period %q", period)
	}
	days, err := strconv.Atoi(strings.TrimSuffix(period, "d"))
	if err != nil || days <= 0 {
		return time.Time{}, fmt.Errorf("invalid period %q", period)
	}
	return a.now().UTC().AddDate(0, 0, -days), nil
}
