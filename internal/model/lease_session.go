package model

import "time"

// SessionStatus is the lifecycle state of a lease session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// LeaseSession correlates one activation with the client. It is not used for
// authorization; the bin's holder is.
type LeaseSession struct {
	ID          string        `gorm:"primaryKey;size:64" json:"sessionId"`
	BinID       string        `gorm:"size:64;not null;index" json:"binId"`
	UserID      string        `gorm:"size:128;not null;index" json:"userId"`
	ActivatedAt time.Time     `gorm:"not null;index" json:"activatedAt"`
	ExpiresAt   time.Time     `gorm:"not null" json:"expiresAt"`
	Status      SessionStatus `gorm:"size:16;not null;index" json:"status"`
	ClosedAt    *time.Time    `json:"closedAt,omitempty"`
}
