package models

import (
	"time"
)

// Artist represents a follow target from the platform catalogue
type Artist struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SpotifyID  string    `gorm:"type:varchar(64);not null;uniqueIndex:artists_ux1;column:spotify_id"`
	Name       string    `gorm:"type:varchar(200);not null;column:name"`
	Popularity int       `gorm:"not null;default:0;column:popularity"`
	Genres     string    `gorm:"type:text;not null;default:'';column:genres"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Artist
func (Artist) TableName() string {
	return "artists"
}
