package model

import "time"

// LeaseState is the exclusivity state of a bin.
type LeaseState string

const (
	LeaseInactive LeaseState = "inactive"
	LeaseActive   LeaseState = "active"
)

// OnlineMarker is the explicit status a device announces on startup.
const OnlineMarker = "online"

// Bin is a physical recycling bin together with its lease, mailbox and
// device telemetry. Holder is non-nil iff State is LeaseActive.
type Bin struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	Name       string     `gorm:"size:256;not null" json:"name"`
	State      LeaseState `gorm:"size:16;not null;default:inactive;index" json:"status"`
	Holder     *string    `gorm:"size:128" json:"currentUser,omitempty"`
	Credential string     `gorm:"uniqueIndex;size:128;not null" json:"-"`

	// Heartbeat fields
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	DeviceStatus   string     `gorm:"size:32" json:"deviceStatus,omitempty"`
	OnlineStatus   string     `gorm:"size:16" json:"-"`
	OnlineStatusAt *time.Time `json:"-"`

	// Capacity fields
	Comp1Capacity      *float64   `json:"comp1Capacity,omitempty"`
	Comp2Capacity      *float64   `json:"comp2Capacity,omitempty"`
	LastCapacityUpdate *time.Time `json:"lastCapacityUpdate,omitempty"`

	// Command mailbox (single slot)
	PendingCommand   *string    `gorm:"size:256" json:"-"`
	PendingCommandAt *time.Time `json:"-"`

	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the bin is currently leased.
func (b *Bin) IsActive() bool {
	return b.State == LeaseActive && b.Holder != nil
}

// HolderID returns the current holder or "" when the bin is free.
func (b *Bin) HolderID() string {
	if b.Holder == nil {
		return ""
	}
	return *b.Holder
}

// DisplayName falls back to the id when the bin has no name.
func (b *Bin) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return "Bin " + b.ID
}
