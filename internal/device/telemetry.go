package device

import (
	"context"
	"fmt"
	"math"
	"time"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/store"
)

// Telemetry applies capacity and location reports. Both are last-write-wins
// overwrites written in one statement.
type Telemetry struct {
	store store.Store
	now   func() time.Time
}

// NewTelemetry creates a Telemetry writer.
func NewTelemetry(s store.Store, now func() time.Time) *Telemetry {
	if now == nil {
		now = time.Now
	}
	return &Telemetry{store: s, now: now}
}

// UpdateCapacity stores the fill percentage of one or both compartments.
func (t *Telemetry) UpdateCapacity(ctx context.Context, binID string, comp1, comp2 *float64) error {
	if comp1 == nil && comp2 == nil {
		return apperr.Validation("at least one compartment capacity is required")
	}

	fields := map[string]any{"last_capacity_update": t.now().UTC()}
	for name, v := range map[string]*float64{"comp1_capacity": comp1, "comp2_capacity": comp2} {
		if v == nil {
			continue
		}
		if !inRange(*v, 0, 100) {
			return apperr.Validation("%s must be between 0 and 100, got %v", name, *v)
		}
		fields[name] = *v
	}

	if err := t.store.MergeBin(ctx, binID, fields); err != nil {
		return fmt.Errorf("update capacity for bin %s: %w", binID, err)
	}
	return nil
}

// UpdateLocation stores the bin's coordinates.
func (t *Telemetry) UpdateLocation(ctx context.Context, binID string, lat, lng float64) error {
	if !inRange(lat, -90, 90) {
		return apperr.Validation("latitude must be between -90 and 90, got %v", lat)
	}
	if !inRange(lng, -180, 180) {
		return apperr.Validation("longitude must be between -180 and 180, got %v", lng)
	}

	err := t.store.MergeBin(ctx, binID, map[string]any{"lat": lat, "lng": lng})
	if err != nil {
		return fmt.Errorf("update location for bin %s: %w", binID, err)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
