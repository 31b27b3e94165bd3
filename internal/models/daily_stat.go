package models

import (
	"time"
)

// DailyStat aggregates completed follows per user per day
type DailyStat struct {
	UserID       int64     `gorm:"primaryKey;column:user_id"`
	Date         time.Time `gorm:"primaryKey;type:date;column:date"`
	FollowsCount int64     `gorm:"not null;default:0;column:follows_count"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}
