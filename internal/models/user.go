package models

import (
	"time"
)

// User represents an account holder. Accounts are owned by the auth
// subsystem; the engine only reads the subscription plan and follow totals.
type User struct {
	ID                int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SpotifyID         string    `gorm:"type:varchar(64);not null;uniqueIndex:users_ux1;column:spotify_id"`
	DisplayName       string    `gorm:"type:varchar(100);not null;default:'';column:display_name"`
	Plan              string    `gorm:"type:varchar(16);not null;default:'free';column:subscription_tier"`
	TotalFollowsGiven int64     `gorm:"not null;default:0;column:total_follows_given"`
	CreatedAt         time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Subscription plan constants
const (
	PlanFree    = "free"
	PlanPro     = "pro"
	PlanPremium = "premium"
)

// ValidPlan reports whether plan is a known subscription tier.
func ValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanPro, PlanPremium:
		return true
	}
	return false
}
