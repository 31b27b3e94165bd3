package models

import (
	"database/sql"
	"time"
)

// FollowRecord represents one follow attempt by a user against a target.
// A record is created the moment a job begins executing, not at schedule
// time, and at most one non-cancelled record exists per (user, artist) pair.
type FollowRecord struct {
	ID           string         `gorm:"primaryKey;type:uuid;column:id"`
	UserID       int64          `gorm:"not null;index:follow_records_ix1;column:user_id"`
	ArtistID     int64          `gorm:"not null;index:follow_records_ix2;column:artist_id"`
	Status       string         `gorm:"type:varchar(16);not null;default:'pending';column:status"`
	CreatedAt    time.Time      `gorm:"not null;index:follow_records_ix3;column:created_at"`
	CompletedAt  sql.NullTime   `gorm:"column:completed_at"`
	ErrorMessage sql.NullString `gorm:"type:text;column:error_message"`
}

// TableName specifies the table name for FollowRecord
func (FollowRecord) TableName() string {
	return "follow_records"
}

// Follow record status constants
const (
	FollowStatusPending   = "pending"
	FollowStatusCompleted = "completed"
	FollowStatusFailed    = "failed"
	FollowStatusCancelled = "cancelled"
)

// CountsTowardQuota reports whether the record's status reserves or consumes
// rate-limit quota. Pending records reserve capacity optimistically; failed
// and cancelled records free it immediately.
func (r *FollowRecord) CountsTowardQuota() bool {
	return r.Status == FollowStatusPending || r.Status == FollowStatusCompleted
}
