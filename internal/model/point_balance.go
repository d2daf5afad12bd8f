package model

import "time"

// PointBalance is a user's accumulated points.
type PointBalance struct {
	UserID      string    `gorm:"primaryKey;size:128" json:"userId"`
	TotalPoints int64     `gorm:"not null;default:0" json:"totalPoints"`
	UpdatedAt   time.Time `json:"lastPointsUpdate"`
}
