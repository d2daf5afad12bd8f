// Package activity formats the human-readable audit trail of lease and
// settlement events.
package activity

import (
	"context"
	"fmt"
	"time"

	"recycle-bin-backend/internal/model"
)

// Actions written to the audit log.
const (
	ActionBinActivated   = "bin_activated"
	ActionBinDeactivated = "bin_deactivated"
	ActionSessionSettled = "session_settled"
)

// Writer is the append-only sink. store.Store satisfies it, including a
// store bound to a transaction.
type Writer interface {
	AppendActivity(ctx context.Context, entry *model.ActivityEntry) error
}

// Recorder builds audit entries and hands them to a Writer.
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a Recorder. A nil clock means time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Activated records a granted lease.
func (r *Recorder) Activated(ctx context.Context, w Writer, bin *model.Bin, userID, sessionID string) error {
	return r.append(ctx, w, &model.ActivityEntry{
		Action:      ActionBinActivated,
		Description: fmt.Sprintf("Bin Activated - %s", bin.DisplayName()),
		BinID:       bin.ID,
		BinName:     bin.DisplayName(),
		UserID:      userID,
		SessionID:   sessionID,
	})
}

// Deactivated records a released lease. by is "user" or "device".
func (r *Recorder) Deactivated(ctx context.Context, w Writer, bin *model.Bin, userID, by string) error {
	return r.append(ctx, w, &model.ActivityEntry{
		Action:      ActionBinDeactivated,
		Description: fmt.Sprintf("Bin Deactivated - %s (by %s)", bin.DisplayName(), by),
		BinID:       bin.ID,
		BinName:     bin.DisplayName(),
		UserID:      userID,
	})
}

// Settled records a completed settlement.
func (r *Recorder) Settled(ctx context.Context, w Writer, binID, userID string, points int64, items int) error {
	return r.append(ctx, w, &model.ActivityEntry{
		Action:      ActionSessionSettled,
		Description: fmt.Sprintf("Session Settled - %d items, %d points", items, points),
		BinID:       binID,
		UserID:      userID,
	})
}

func (r *Recorder) append(ctx context.Context, w Writer, entry *model.ActivityEntry) error {
	entry.CreatedAt = r.now().UTC()
	if err := w.AppendActivity(ctx, entry); err != nil {
		return fmt.Errorf("append activity %s: %w", entry.Action, err)
	}
	return nil
}
