package models

import (
	"database/sql"
	"time"
)

// QueueJob represents one unit of deferred work in the durable job queue
type QueueJob struct {
	ID          string         `gorm:"primaryKey;type:uuid;column:id"`
	UserID      int64          `gorm:"not null;index:queue_jobs_ix1;column:user_id"`
	JobType     string         `gorm:"type:varchar(32);not null;column:job_type"`
	ArtistID    int64          `gorm:"not null;column:artist_id"`
	Priority    int            `gorm:"not null;default:0;column:priority"`
	Attempts    int            `gorm:"not null;default:0;column:attempts"`
	MaxAttempts int            `gorm:"not null;default:3;column:max_attempts"`
	Status      string         `gorm:"type:varchar(16);not null;default:'scheduled';index:queue_jobs_ix2;column:status"`
	ScheduledAt time.Time      `gorm:"not null;index:queue_jobs_ix3;column:scheduled_at"`
	StartedAt   sql.NullTime   `gorm:"column:started_at"`
	CompletedAt sql.NullTime   `gorm:"column:completed_at"`
	LastError   sql.NullString `gorm:"type:text;column:last_error"`
	CreatedAt   time.Time      `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for QueueJob
func (QueueJob) TableName() string {
	return "queue_jobs"
}

// Job type constants
const (
	JobTypeFollow = "follow"
)

// Job status constants
const (
	JobStatusScheduled = "scheduled"
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Terminal reports whether the job is in an absorbing state.
// No transition ever leaves completed, failed or cancelled.
func (j *QueueJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether the job may still be cancelled. An active job
// already executing runs to completion; cancellation is advisory only.
func (j *QueueJob) Cancellable() bool {
	return j.Status == JobStatusScheduled || j.Status == JobStatusQueued
}
