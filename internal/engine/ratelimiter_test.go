package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/config"
)

func testLimitsConfig() config.LimitsConfig {
	return config.LimitsConfig{
		HourlyLimit: 30,
		DailyLimit:  500,
		MonthlyFree: 100,
		MonthlyPro:  1000,
	}
}

// testNow returns a fixed instant 400 hours into its monthly window, so
// records placed at the window start are outside the hourly and daily
// windows.
func testNow() time.Time {
	anchor := time.Unix(0, 0).UTC().Add(500000 * time.Hour)
	return anchor.Truncate(windowMonthly.Size).Add(400*time.Hour + 30*time.Minute)
}

func addRecords(records *fakeRecords, userID int64, status string, createdAt time.Time, n int) {
	for i := 0; i < n; i++ {
		records.add(models.FollowRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			ArtistID:  int64(1000 + i),
			Status:    status,
			CreatedAt: createdAt,
		})
	}
}

func newTestLimiter(t *testing.T, records *fakeRecords, withCache bool) *RateLimiter {
	t.Helper()

	var redisCache *cache.Cache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		redisCache = cache.NewFromClient(client)
	}

	limiter := NewRateLimiter(records, redisCache, testLimitsConfig())
	limiter.now = testNow
	return limiter
}

func TestWindowStart(t *testing.T) {
	now := testNow()

	tests := []struct {
		name   string
		window Window
	}{
		{"hourly", windowHourly},
		{"daily", windowDaily},
		{"monthly", windowMonthly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := tt.window.Start(now)
			if start.After(now) {
				t.Errorf("window start %v is after now %v", start, now)
			}
			if now.Sub(start) >= tt.window.Size {
				t.Errorf("now %v is outside its window [%v, %v)", now, start, start.Add(tt.window.Size))
			}
			// Starts are aligned to the window size
			if !start.Truncate(tt.window.Size).Equal(start) {
				t.Errorf("window start %v is not aligned to %v", start, tt.window.Size)
			}
		})
	}
}

func TestCheck_WindowBoundaryReset(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)

	now := testNow()
	hourStart := windowHourly.Start(now)

	// Records created 1ms before the boundary belong to the previous hour
	addRecords(records, 1, models.FollowStatusCompleted, hourStart.Add(-time.Millisecond), 5)
	// Records created exactly at the boundary belong to the current hour
	addRecords(records, 1, models.FollowStatusCompleted, hourStart, 3)

	snapshot, err := limiter.Check(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if snapshot.Hourly.Count != 3 {
		t.Errorf("hourly count = %d, want 3 (previous window must not leak)", snapshot.Hourly.Count)
	}
}

func TestCheck_PendingReservesFailedFrees(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)

	now := testNow()
	addRecords(records, 1, models.FollowStatusPending, now.Add(-time.Minute), 2)
	addRecords(records, 1, models.FollowStatusCompleted, now.Add(-time.Minute), 3)
	addRecords(records, 1, models.FollowStatusFailed, now.Add(-time.Minute), 10)
	addRecords(records, 1, models.FollowStatusCancelled, now.Add(-time.Minute), 10)

	snapshot, err := limiter.Check(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if snapshot.Hourly.Count != 5 {
		t.Errorf("hourly count = %d, want 5 (pending+completed only)", snapshot.Hourly.Count)
	}
}

func TestCheck_ScenarioA_FreeUserOneRemaining(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)

	// 99 completed follows this month, none recent enough to touch the
	// hourly or daily windows
	monthStart := windowMonthly.Start(testNow())
	addRecords(records, 1, models.FollowStatusCompleted, monthStart.Add(time.Minute), 99)

	snapshot, err := limiter.Check(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !snapshot.CanFollow {
		t.Error("CanFollow = false, want true with one slot left")
	}
	if snapshot.Monthly.Count != 99 {
		t.Errorf("monthly count = %d, want 99", snapshot.Monthly.Count)
	}
	if snapshot.Monthly.Remaining != 1 {
		t.Errorf("monthly remaining = %d, want 1", snapshot.Monthly.Remaining)
	}
}

func TestCheck_MonthlyExhausted(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)

	monthStart := windowMonthly.Start(testNow())
	addRecords(records, 1, models.FollowStatusCompleted, monthStart.Add(time.Minute), 100)

	snapshot, err := limiter.Check(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if snapshot.CanFollow {
		t.Error("CanFollow = true, want false at monthly cap")
	}
	if snapshot.NextAvailableSlot == nil {
		t.Fatal("NextAvailableSlot missing")
	}
	wantSlot := windowMonthly.End(testNow())
	if !snapshot.NextAvailableSlot.Equal(wantSlot) {
		t.Errorf("NextAvailableSlot = %v, want %v", snapshot.NextAvailableSlot, wantSlot)
	}
}

func TestCheck_ScenarioC_PremiumUnlimitedMonthly(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)

	// At the hourly cap within the current hour
	addRecords(records, 1, models.FollowStatusCompleted, testNow().Add(-time.Minute), 30)

	snapshot, err := limiter.Check(context.Background(), 1, models.PlanPremium)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if snapshot.Monthly.Limit != Unlimited {
		t.Errorf("premium monthly limit = %d, want unlimited sentinel %d", snapshot.Monthly.Limit, Unlimited)
	}
	if snapshot.CanFollow {
		t.Error("CanFollow = true, want false: hourly cap still applies to premium")
	}
	// The hourly window resets soonest
	wantSlot := windowHourly.End(testNow())
	if snapshot.NextAvailableSlot == nil || !snapshot.NextAvailableSlot.Equal(wantSlot) {
		t.Errorf("NextAvailableSlot = %v, want hourly window end %v", snapshot.NextAvailableSlot, wantSlot)
	}
}

func TestReserve_CachedIncrementAndCompare(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, true)
	limiter.cfg.HourlyLimit = 2
	ctx := context.Background()

	commit := func(artistID int64) func(context.Context) error {
		return func(ctx context.Context) error {
			return records.Create(ctx, &models.FollowRecord{
				ID:        uuid.NewString(),
				UserID:    1,
				ArtistID:  artistID,
				Status:    models.FollowStatusPending,
				CreatedAt: testNow(),
			})
		}
	}

	for i := int64(0); i < 2; i++ {
		if _, err := limiter.Reserve(ctx, 1, models.PlanFree, commit(i)); err != nil {
			t.Fatalf("Reserve() %d error: %v", i, err)
		}
	}

	_, err := limiter.Reserve(ctx, 1, models.PlanFree, commit(99))
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Reserve() over limit = %v, want ErrRateLimitExceeded", err)
	}

	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.Snapshot == nil {
		t.Fatal("over-limit error should carry a limits snapshot")
	}
	if got := len(records.byStatus(models.FollowStatusPending)); got != 2 {
		t.Errorf("pending records = %d, want 2 (third reservation rejected)", got)
	}
}

func TestReserve_CachedSeedsFromDatabase(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, true)
	limiter.cfg.HourlyLimit = 3
	ctx := context.Background()

	// Two quota-consuming records predate this process; the cold cache must
	// learn about them before admitting new reservations
	addRecords(records, 1, models.FollowStatusCompleted, testNow().Add(-time.Minute), 2)

	commit := func(context.Context) error { return nil }

	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, commit); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, commit); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Reserve() = %v, want ErrRateLimitExceeded after seeding", err)
	}
}

func TestReserve_CommitFailureRollsBack(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, true)
	limiter.cfg.HourlyLimit = 1
	ctx := context.Background()

	boom := fmt.Errorf("insert failed")
	_, err := limiter.Reserve(ctx, 1, models.PlanFree, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Reserve() = %v, want commit error", err)
	}

	// The failed commit's reservation must not linger
	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Reserve() after rollback error: %v", err)
	}
}

func TestReserve_NoCacheFallback(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, false)
	limiter.cfg.HourlyLimit = 1
	ctx := context.Background()

	commit := func(ctx context.Context) error {
		return records.Create(ctx, &models.FollowRecord{
			ID:        uuid.NewString(),
			UserID:    1,
			ArtistID:  1,
			Status:    models.FollowStatusPending,
			CreatedAt: testNow(),
		})
	}

	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, commit); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, commit); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Reserve() = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRelease_FreesReservation(t *testing.T) {
	records := newFakeRecords()
	limiter := newTestLimiter(t, records, true)
	limiter.cfg.HourlyLimit = 1
	ctx := context.Background()

	createdAt := testNow()
	rec := &models.FollowRecord{
		ID:        uuid.NewString(),
		UserID:    1,
		ArtistID:  1,
		Status:    models.FollowStatusPending,
		CreatedAt: createdAt,
	}
	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, func(ctx context.Context) error {
		return records.Create(ctx, rec)
	}); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}

	// The attempt fails: the record leaves pending and its slot frees
	rec.Status = models.FollowStatusFailed
	if err := records.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	limiter.Release(ctx, 1, createdAt)

	if _, err := limiter.Reserve(ctx, 1, models.PlanFree, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Reserve() after release error: %v", err)
	}
}

func TestSnapshotRemaining(t *testing.T) {
	tests := []struct {
		name     string
		snapshot LimitSnapshot
		want     int64
	}{
		{
			name: "tightest window wins",
			snapshot: LimitSnapshot{
				Hourly:  WindowStatus{Count: 25, Limit: 30, Remaining: 5},
				Daily:   WindowStatus{Count: 100, Limit: 500, Remaining: 400},
				Monthly: WindowStatus{Count: 50, Limit: 100, Remaining: 50},
			},
			want: 5,
		},
		{
			name: "unlimited windows ignored",
			snapshot: LimitSnapshot{
				Hourly:  WindowStatus{Count: 0, Limit: 30, Remaining: 30},
				Daily:   WindowStatus{Count: 0, Limit: 500, Remaining: 500},
				Monthly: WindowStatus{Count: 0, Limit: Unlimited, Remaining: Unlimited},
			},
			want: 30,
		},
		{
			name: "all unlimited",
			snapshot: LimitSnapshot{
				Hourly:  WindowStatus{Limit: Unlimited, Remaining: Unlimited},
				Daily:   WindowStatus{Limit: Unlimited, Remaining: Unlimited},
				Monthly: WindowStatus{Limit: Unlimited, Remaining: Unlimited},
			},
			want: Unlimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snapshot.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}
