// Package lease implements the bin exclusivity state machine.
//
// A bin is either inactive or active with exactly one holder. Every
// transition for a bin runs under that bin's lock and inside one store
// transaction whose commit point is a conditional update, so two processes
// sharing the database cannot both win either.
package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recycle-bin-backend/internal/activity"
	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/binlock"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/mailbox"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/parse"
	"recycle-bin-backend/internal/store"
)

// DefaultSessionTTL is the expiry estimate attached to new sessions.
const DefaultSessionTTL = 5 * time.Minute

// Outcome describes a successful Acquire.
type Outcome string

const (
	Granted           Outcome = "granted"
	AlreadyHeldBySelf Outcome = "already_held_by_self"
)

// Releaser identifies who triggered a release.
type Releaser string

const (
	ByUser   Releaser = "user"
	ByDevice Releaser = "device"
)

// AcquireResult is returned by Acquire.
type AcquireResult struct {
	Outcome Outcome
	BinID   string
	// Session is the active lease session. It may be nil on a re-notify when
	// no session row survived.
	Session *model.LeaseSession
	Command string
}

// ReleaseResult is returned by Release and ReleaseByDevice.
type ReleaseResult struct {
	BinID   string
	Holder  string
	By      Releaser
	Command string
}

// Manager grants and revokes leases.
type Manager struct {
	store      store.Store
	locks      *binlock.Table
	mailbox    *mailbox.Mailbox
	recorder   *activity.Recorder
	publisher  events.Publisher
	sessionTTL time.Duration
	now        func() time.Time
}

// Options carries the Manager's collaborators.
type Options struct {
	Store      store.Store
	Locks      *binlock.Table
	Mailbox    *mailbox.Mailbox
	Recorder   *activity.Recorder
	Publisher  events.Publisher
	SessionTTL time.Duration
	Now        func() time.Time
}

// NewManager creates a Manager. Locks must be the table the mailbox uses.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:      opts.Store,
		locks:      opts.Locks,
		mailbox:    opts.Mailbox,
		recorder:   opts.Recorder,
		publisher:  opts.Publisher,
		sessionTTL: opts.SessionTTL,
		now:        opts.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sessionTTL <= 0 {
		m.sessionTTL = DefaultSessionTTL
	}
	if m.recorder == nil {
		m.recorder = activity.NewRecorder(m.now)
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	return m
}

// Acquire grants binID to userID. A bin held by someone else yields an
// *apperr.ConflictError naming the holder; a bin already held by userID is
// re-notified without creating a new session.
func (m *Manager) Acquire(ctx context.Context, binID, userID string) (AcquireResult, error) {
	if err := requireIDs(binID, userID); err != nil {
		return AcquireResult{}, err
	}

	unlock := m.locks.Lock(binID)
	defer unlock()

	var res AcquireResult
	err := m.store.Transaction(ctx, func(tx store.Store) error {
		bin, err := tx.GetBin(ctx, binID)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		command := parse.ActivateCommand(userID)

		if bin.State == model.LeaseActive {
			if bin.HolderID() != userID {
				return &apperr.ConflictError{BinID: binID, Holder: bin.HolderID()}
			}
			if err := m.mailbox.EnqueueTx(ctx, tx, binID, command); err != nil {
				return err
			}
			session, err := tx.ActiveSession(ctx, binID)
			if err != nil && !apperr.IsNotFound(err) {
				return err
			}
			res = AcquireResult{Outcome: AlreadyHeldBySelf, BinID: binID, Session: session, Command: command}
			return nil
		}

		ok, err := tx.AcquireLease(ctx, binID, userID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost to a writer outside this process.
			current, err := tx.GetBin(ctx, binID)
			if err != nil {
				return err
			}
			return &apperr.ConflictError{BinID: binID, Holder: current.HolderID()}
		}

		if err := tx.CloseActiveSessions(ctx, binID, now); err != nil {
			return err
		}
		session := &model.LeaseSession{
			ID:          uuid.NewString(),
			BinID:       binID,
			UserID:      userID,
			ActivatedAt: now,
			ExpiresAt:   now.Add(m.sessionTTL),
			Status:      model.SessionActive,
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		if err := m.mailbox.EnqueueTx(ctx, tx, binID, command); err != nil {
			return err
		}
		if err := m.recorder.Activated(ctx, tx, bin, userID, session.ID); err != nil {
			return err
		}
		res = AcquireResult{Outcome: Granted, BinID: binID, Session: session, Command: command}
		return nil
	})
	if err != nil {
		return AcquireResult{}, err
	}
	// Publish without holding the bin lock.
	unlock()

	evt := events.Event{Type: events.LeaseAcquired, BinID: binID, UserID: userID, Timestamp: m.now().UTC()}
	if res.Outcome == AlreadyHeldBySelf {
		evt.Type = events.LeaseRenotified
	}
	if res.Session != nil {
		evt.SessionID = res.Session.ID
	}
	events.Emit(m.publisher, evt)
	return res, nil
}

// Release revokes userID's lease on binID. Any requester other than the
// current holder, including on an inactive bin, gets ErrUnauthorized.
func (m *Manager) Release(ctx context.Context, binID, userID string) (ReleaseResult, error) {
	if err := requireIDs(binID, userID); err != nil {
		return ReleaseResult{}, err
	}
	return m.release(ctx, binID, userID, ByUser)
}

// ReleaseByDevice revokes whatever lease is active on binID. The caller has
// already authenticated the device for this bin.
func (m *Manager) ReleaseByDevice(ctx context.Context, binID string) (ReleaseResult, error) {
	if strings.TrimSpace(binID) == "" {
		return ReleaseResult{}, apperr.Validation("binId is required")
	}
	return m.release(ctx, binID, "", ByDevice)
}

func (m *Manager) release(ctx context.Context, binID, userID string, by Releaser) (ReleaseResult, error) {
	unlock := m.locks.Lock(binID)
	defer unlock()

	var res ReleaseResult
	err := m.store.Transaction(ctx, func(tx store.Store) error {
		bin, err := tx.GetBin(ctx, binID)
		if err != nil {
			return err
		}
		if bin.State != model.LeaseActive {
			return fmt.Errorf("%w: bin %s is not active", apperr.ErrUnauthorized, binID)
		}
		holder := bin.HolderID()
		if by == ByUser && holder != userID {
			return fmt.Errorf("%w: user %s does not hold bin %s", apperr.ErrUnauthorized, userID, binID)
		}

		now := m.now().UTC()
		ok, err := tx.ReleaseLease(ctx, binID, holder, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: lease on bin %s changed concurrently", apperr.ErrUnauthorized, binID)
		}
		if err := tx.CloseActiveSessions(ctx, binID, now); err != nil {
			return err
		}
		command := parse.DeactivateCommand()
		if err := m.mailbox.EnqueueTx(ctx, tx, binID, command); err != nil {
			return err
		}
		if err := m.recorder.Deactivated(ctx, tx, bin, holder, string(by)); err != nil {
			return err
		}
		res = ReleaseResult{BinID: binID, Holder: holder, By: by, Command: command}
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	unlock()

	events.Emit(m.publisher, events.Event{
		Type:      events.LeaseReleased,
		BinID:     binID,
		UserID:    res.Holder,
		Timestamp: m.now().UTC(),
	})
	return res, nil
}

// Holds reports whether userID currently holds binID.
func (m *Manager) Holds(ctx context.Context, binID, userID string) (bool, error) {
	bin, err := m.store.GetBin(ctx, binID)
	if err != nil {
		return false, err
	}
	return bin.State == model.LeaseActive && bin.HolderID() == userID, nil
}

func requireIDs(binID, userID string) error {
	if strings.TrimSpace(binID) == "" {
		return apperr.Validation("binId is required")
	}
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	return nil
}
