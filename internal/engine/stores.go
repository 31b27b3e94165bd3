package engine

import (
	"context"
	"time"

	"github.com/KennXion/follow-swarm/internal/models"
)

// The engine depends on narrow store interfaces rather than concrete
// repositories so components are constructed once at process start with
// whatever implementation the process wires in, and tests substitute
// in-memory fakes. internal/db satisfies all of them.

// UserStore reads account data owned by the auth subsystem
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	IncrementFollowsGiven(ctx context.Context, id int64) error
}

// TargetStore reads the artist catalogue
type TargetStore interface {
	GetByID(ctx context.Context, id int64) (*models.Artist, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Artist, error)
	Candidates(ctx context.Context, userID int64, limit int) ([]models.Artist, error)
}

// FollowStore persists follow records
type FollowStore interface {
	Create(ctx context.Context, record *models.FollowRecord) error
	Update(ctx context.Context, record *models.FollowRecord) error
	FindActive(ctx context.Context, userID, artistID int64) (*models.FollowRecord, error)
	CountInWindow(ctx context.Context, userID int64, from, to time.Time) (int64, error)
	History(ctx context.Context, userID int64, since time.Time, limit int) ([]models.FollowRecord, error)
	StatusCounts(ctx context.Context, userID int64, since time.Time) (map[string]int64, error)
}

// JobStore persists queue jobs
type JobStore interface {
	GetByID(ctx context.Context, id string) (*models.QueueJob, error)
	Create(ctx context.Context, job *models.QueueJob) error
	CreateBatch(ctx context.Context, jobs []models.QueueJob) error
	Update(ctx context.Context, job *models.QueueJob) error
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	ClaimNext(ctx context.Context, now time.Time) (*models.QueueJob, error)
	CancelIfPending(ctx context.Context, id string) (bool, error)
	CancelUser(ctx context.Context, userID int64) (int64, error)
	ListByUser(ctx context.Context, userID int64, statuses []string, limit int) ([]models.QueueJob, error)
}

// StatStore persists daily aggregates
type StatStore interface {
	Increment(ctx context.Context, userID int64, date time.Time) error
	Range(ctx context.Context, userID int64, since time.Time) ([]models.DailyStat, error)
}
