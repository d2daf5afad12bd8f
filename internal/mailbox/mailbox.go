// Package mailbox implements the single-slot command queue a polling device
// drains.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/binlock"
	"recycle-bin-backend/internal/store"
)

// Mailbox holds at most one pending command per bin. Enqueue overwrites any
// unconsumed command and Drain clears the slot as it reads it.
type Mailbox struct {
	locks *binlock.Table
	store store.Store
	now   func() time.Time
}

// New creates a Mailbox that shares locks with the lease manager.
func New(locks *binlock.Table, s store.Store, now func() time.Time) *Mailbox {
	if now == nil {
		now = time.Now
	}
	return &Mailbox{locks: locks, store: s, now: now}
}

// Enqueue replaces the bin's pending command.
func (m *Mailbox) Enqueue(ctx context.Context, binID, command string) error {
	unlock := m.locks.Lock(binID)
	defer unlock()
	return m.EnqueueTx(ctx, m.store, binID, command)
}

// EnqueueTx writes through s without taking the bin lock. The caller must
// already hold it, typically inside a lease transaction.
func (m *Mailbox) EnqueueTx(ctx context.Context, s store.Store, binID, command string) error {
	if strings.TrimSpace(command) == "" {
		return apperr.Validation("empty command")
	}
	err := s.MergeBin(ctx, binID, map[string]any{
		"pending_command":    command,
		"pending_command_at": m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue command for bin %s: %w", binID, err)
	}
	return nil
}

// Drain returns and clears the pending command. ok is false when the slot
// was empty.
func (m *Mailbox) Drain(ctx context.Context, binID string) (command string, ok bool, err error) {
	unlock := m.locks.Lock(binID)
	defer unlock()

	command, ok, err = m.store.TakePendingCommand(ctx, binID)
	if err != nil {
		return "", false, fmt.Errorf("drain mailbox for bin %s: %w", binID, err)
	}
	return command, ok, nil
}
