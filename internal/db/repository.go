package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KennXion/follow-swarm/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UserRepository provides user-related database operations
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(repo *Repository) *UserRepository {
	return &UserRepository{Repository: repo}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// IncrementFollowsGiven bumps the user's lifetime follow counter
func (r *UserRepository) IncrementFollowsGiven(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("total_follows_given", gorm.Expr("total_follows_given + 1")).Error
}

// ArtistRepository provides artist-related database operations
type ArtistRepository struct {
	*Repository
}

// NewArtistRepository creates a new artist repository
func NewArtistRepository(repo *Repository) *ArtistRepository {
	return &ArtistRepository{Repository: repo}
}

// GetByID retrieves an artist by ID
func (r *ArtistRepository) GetByID(ctx context.Context, id int64) (*models.Artist, error) {
	var artist models.Artist
	if err := r.db.WithContext(ctx).First(&artist, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &artist, nil
}

// GetByIDs retrieves multiple artists by IDs
func (r *ArtistRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.Artist, error) {
	var artists []models.Artist
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&artists).Error; err != nil {
		return nil, err
	}
	return artists, nil
}

// Candidates returns artists the user has no pending or completed follow
// record for, ordered by popularity descending with catalogue creation order
// as the stable tiebreak.
func (r *ArtistRepository) Candidates(ctx context.Context, userID int64, limit int) ([]models.Artist, error) {
	var artists []models.Artist
	sub := r.db.Model(&models.FollowRecord{}).
		Select("artist_id").
		Where("user_id = ? AND status IN ?", userID,
			[]string{models.FollowStatusPending, models.FollowStatusCompleted})

	err := r.db.WithContext(ctx).
		Where("id NOT IN (?)", sub).
		Order("popularity DESC, id ASC").
		Limit(limit).
		Find(&artists).Error
	if err != nil {
		return nil, err
	}
	return artists, nil
}

// FollowRecordRepository provides follow record database operations
type FollowRecordRepository struct {
	*Repository
}

// NewFollowRecordRepository creates a new follow record repository
func NewFollowRecordRepository(repo *Repository) *FollowRecordRepository {
	return &FollowRecordRepository{Repository: repo}
}

// Create creates a new follow record
func (r *FollowRecordRepository) Create(ctx context.Context, record *models.FollowRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// Update updates a follow record
func (r *FollowRecordRepository) Update(ctx context.Context, record *models.FollowRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

// FindActive retrieves the pending or completed record for a (user, artist)
// pair, if any. At most one such record exists.
func (r *FollowRecordRepository) FindActive(ctx context.Context, userID, artistID int64) (*models.FollowRecord, error) {
	var record models.FollowRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND artist_id = ? AND status IN ?", userID, artistID,
			[]string{models.FollowStatusPending, models.FollowStatusCompleted}).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CountInWindow counts quota-consuming records created in [from, to)
func (r *FollowRecordRepository) CountInWindow(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FollowRecord{}).
		Where("user_id = ? AND status IN ? AND created_at >= ? AND created_at < ?",
			userID, []string{models.FollowStatusPending, models.FollowStatusCompleted}, from, to).
		Count(&count).Error
	return count, err
}

// History retrieves the user's follow records since a cutoff, newest first
func (r *FollowRecordRepository) History(ctx context.Context, userID int64, since time.Time, limit int) ([]models.FollowRecord, error) {
	var records []models.FollowRecord
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// StatusCounts returns record counts grouped by status since a cutoff
func (r *FollowRecordRepository) StatusCounts(ctx context.Context, userID int64, since time.Time) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := r.db.WithContext(ctx).Model(&models.FollowRecord{}).
		Select("status, count(*) as n").
		Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// QueueJobRepository provides queue job database operations
type QueueJobRepository struct {
	*Repository
}

// NewQueueJobRepository creates a new queue job repository
func NewQueueJobRepository(repo *Repository) *QueueJobRepository {
	return &QueueJobRepository{Repository: repo}
}

// GetByID retrieves a job by ID
func (r *QueueJobRepository) GetByID(ctx context.Context, id string) (*models.QueueJob, error) {
	var job models.QueueJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Create creates a single job
func (r *QueueJobRepository) Create(ctx context.Context, job *models.QueueJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// CreateBatch creates all jobs in one transaction. A failure mid-batch rolls
// the whole set back so no partially scheduled sequence survives a crash.
func (r *QueueJobRepository) CreateBatch(ctx context.Context, jobs []models.QueueJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range jobs {
			if err := tx.Create(&jobs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Update updates a job
func (r *QueueJobRepository) Update(ctx context.Context, job *models.QueueJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// PromoteDue moves due scheduled jobs to queued and returns the count moved
func (r *QueueJobRepository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("status = ? AND scheduled_at <= ?", models.JobStatusScheduled, now).
		Update("status", models.JobStatusQueued)
	return res.RowsAffected, res.Error
}

// ClaimNext atomically claims the next runnable queued job for a worker.
// Row locking with SKIP LOCKED guarantees no two workers claim the same job.
// Returns nil when the queue is empty.
func (r *QueueJobRepository) ClaimNext(ctx context.Context, now time.Time) (*models.QueueJob, error) {
	var job models.QueueJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_at <= ?", models.JobStatusQueued, now).
			Order("priority DESC, scheduled_at ASC").
			First(&job).Error
		if err != nil {
			return err
		}
		job.Status = models.JobStatusActive
		job.Attempts++
		job.StartedAt.Time = now
		job.StartedAt.Valid = true
		return tx.Save(&job).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// CancelIfPending cancels a job only while it is still scheduled or queued.
// Returns false when the job was already claimed or terminal.
func (r *QueueJobRepository) CancelIfPending(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.JobStatusScheduled, models.JobStatusQueued}).
		Update("status", models.JobStatusCancelled)
	return res.RowsAffected > 0, res.Error
}

// CancelUser cancels all scheduled and queued jobs for a user and returns
// the exact count transitioned
func (r *QueueJobRepository) CancelUser(ctx context.Context, userID int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{models.JobStatusScheduled, models.JobStatusQueued}).
		Update("status", models.JobStatusCancelled)
	return res.RowsAffected, res.Error
}

// ListByUser retrieves the user's jobs filtered by status, newest first.
// An empty status list returns jobs in every state.
func (r *QueueJobRepository) ListByUser(ctx context.Context, userID int64, statuses []string, limit int) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// DailyStatRepository provides daily stat database operations
type DailyStatRepository struct {
	*Repository
}

// NewDailyStatRepository creates a new daily stat repository
func NewDailyStatRepository(repo *Repository) *DailyStatRepository {
	return &DailyStatRepository{Repository: repo}
}

// Increment upserts the (user, date) row and bumps its follow count
func (r *DailyStatRepository) Increment(ctx context.Context, userID int64, date time.Time) error {
	stat := models.DailyStat{
		UserID:       userID,
		Date:         date,
		FollowsCount: 1,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"follows_count": gorm.Expr("daily_stats.follows_count + 1"),
		}),
	}).Create(&stat).Error
}

// Range retrieves daily stats for a user since a cutoff, oldest first
func (r *DailyStatRepository) Range(ctx context.Context, userID int64, since time.Time) ([]models.DailyStat, error) {
	var stats []models.DailyStat
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("date >= ?", since)
	}
	if err := q.Order("date ASC").Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// CredentialRepository reads stored refresh tokens. It implements the
// spotify.RefreshTokenStore boundary.
type CredentialRepository struct {
	*Repository
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(repo *Repository) *CredentialRepository {
	return &CredentialRepository{Repository: repo}
}

// RefreshToken returns the user's refresh token. A missing credential is an
// error: the user must re-authorize before any follow can run.
func (r *CredentialRepository) RefreshToken(ctx context.Context, userID int64) (string, error) {
	var cred models.SpotifyCredential
	err := r.db.WithContext(ctx).First(&cred, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("no stored credential for user %d", userID)
	}
	if err != nil {
		return "", err
	}
	return cred.RefreshToken, nil
}
