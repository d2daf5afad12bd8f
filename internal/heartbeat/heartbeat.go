// Package heartbeat records device liveness signals and derives the online
// flag at read time.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
)

// DefaultThreshold is the age after which a heartbeat no longer counts.
const DefaultThreshold = 60 * time.Second

// Tracker writes heartbeat fields and evaluates liveness.
type Tracker struct {
	store         store.Store
	threshold     time.Duration
	defaultStatus string
	now           func() time.Time
}

// NewTracker creates a Tracker. A non-positive threshold means DefaultThreshold.
func NewTracker(s store.Store, threshold time.Duration, defaultStatus string, now func() time.Time) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: s, threshold: threshold, defaultStatus: defaultStatus, now: now}
}

// Threshold returns the configured liveness window.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// RecordHeartbeat stores the current time and the reported status. An empty
// status falls back to the configured default.
func (t *Tracker) RecordHeartbeat(ctx context.Context, binID, status string) (time.Time, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		status = t.defaultStatus
	}
	at := t.now().UTC()
	err := t.store.MergeBin(ctx, binID, map[string]any{
		"last_heartbeat": at,
		"device_status":  status,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("record heartbeat for bin %s: %w", binID, err)
	}
	return at, nil
}

// Announce sets the explicit online marker a device sends on startup, before
// its first periodic heartbeat.
func (t *Tracker) Announce(ctx context.Context, binID string) error {
	err := t.store.MergeBin(ctx, binID, map[string]any{
		"online_status":    model.OnlineMarker,
		"online_status_at": t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("announce bin %s: %w", binID, err)
	}
	return nil
}

// IsOnline evaluates liveness at the tracker's current time.
func (t *Tracker) IsOnline(bin *model.Bin) bool {
	return t.OnlineAt(bin, t.now())
}

// OnlineAt reports whether bin counts as online at the given instant. The
// explicit marker and the last heartbeat both expire after the threshold;
// missing data reads as offline.
func (t *Tracker) OnlineAt(bin *model.Bin, at time.Time) bool {
	if bin == nil {
		return false
	}
	if bin.OnlineStatus == model.OnlineMarker && fresh(bin.OnlineStatusAt, at, t.threshold) {
		return true
	}
	return fresh(bin.LastHeartbeat, at, t.threshold)
}

func fresh(ts *time.Time, at time.Time, threshold time.Duration) bool {
	if ts == nil || ts.IsZero() {
		return false
	}
	return at.Sub(*ts) < threshold
}
