package models

import (
	"time"
)

// SpotifyCredential holds a user's refresh token as written by the auth
// subsystem during the OAuth exchange. The engine reads it to mint access
// tokens and never writes it.
type SpotifyCredential struct {
	UserID       int64     `gorm:"primaryKey;column:user_id"`
	RefreshToken string    `gorm:"type:text;not null;column:refresh_token"`
	UpdatedAt    time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for SpotifyCredential
func (SpotifyCredential) TableName() string {
	return "spotify_credentials"
}
