package model

import "time"

// ActivityEntry is an append-only, human-readable audit row.
type ActivityEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Action      string    `gorm:"size:64;not null" json:"action"`
	Description string    `gorm:"size:512;not null" json:"description"`
	BinID       string    `gorm:"size:64;index" json:"binId,omitempty"`
	BinName     string    `gorm:"size:256" json:"binName,omitempty"`
	UserID      string    `gorm:"size:128;index" json:"userId,omitempty"`
	SessionID   string    `gorm:"size:64" json:"sessionId,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"timestamp"`
}
