package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrImmutableRecord is returned when code tries to update a recycling record.
var ErrImmutableRecord = errors.New("recycling records are immutable")

// RecyclingRecord is the settled outcome of one material category in a session.
type RecyclingRecord struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	UserID     string    `gorm:"size:128;not null;index" json:"userId"`
	BinID      string    `gorm:"size:64;not null;index" json:"binId"`
	Category   string    `gorm:"size:64;not null" json:"materialType"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	WeightKg   float64   `gorm:"not null" json:"weight"`
	Points     int64     `gorm:"not null" json:"pointsEarned"`
	RawPayload *string   `gorm:"type:text" json:"sessionData,omitempty"`
	CreatedAt  time.Time `gorm:"not null;index" json:"timestamp"`
}

// BeforeUpdate rejects any update; records are written once by settlement.
func (r *RecyclingRecord) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}
