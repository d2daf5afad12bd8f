package lease_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycle-bin-backend/internal/activity"
	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/binlock"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/lease"
	"recycle-bin-backend/internal/mailbox"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
	"recycle-bin-backend/internal/testutil"
)

type fixture struct {
	store   store.Store
	mailbox *mailbox.Mailbox
	leases  *lease.Manager
	events  *events.Recorder
	clock   *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")
	testutil.SeedBin(t, s, "B002", "KEY2")

	clock := testutil.NewClock()
	locks := binlock.New()
	mb := mailbox.New(locks, s, clock.Now)
	rec := &events.Recorder{}
	m := lease.NewManager(lease.Options{
		Store:     s,
		Locks:     locks,
		Mailbox:   mb,
		Recorder:  activity.NewRecorder(clock.Now),
		Publisher: rec,
		Now:       clock.Now,
	})
	return &fixture{store: s, mailbox: mb, leases: m, events: rec, clock: clock}
}

// assertHolderConsistent checks that the holder is set iff the bin is active.
func (f *fixture) assertHolderConsistent(t *testing.T, binID string) *model.Bin {
	t.Helper()
	bin, err := f.store.GetBin(context.Background(), binID)
	require.NoError(t, err)
	assert.Equal(t, bin.State == model.LeaseActive, bin.Holder != nil,
		"holder must be set iff the bin is active (state=%s holder=%v)", bin.State, bin.Holder)
	return bin
}

func (f *fixture) sessionCount(t *testing.T, binID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB().Model(&model.LeaseSession{}).Where("bin_id = ?", binID).Count(&n).Error)
	return n
}

func TestAcquire_GrantsInactiveBin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	assert.Equal(t, lease.Granted, res.Outcome)
	assert.Equal(t, "ACTIVATE:U1", res.Command)
	require.NotNil(t, res.Session)
	assert.Equal(t, lease.DefaultSessionTTL, res.Session.ExpiresAt.Sub(res.Session.ActivatedAt))

	bin := f.assertHolderConsistent(t, "B001")
	assert.Equal(t, "U1", bin.HolderID())

	cmd, ok, err := f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ACTIVATE:U1", cmd)

	entries, err := f.store.ListActivity(ctx, "B001", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, activity.ActionBinActivated, entries[0].Action)
	assert.Equal(t, res.Session.ID, entries[0].SessionID)

	assert.Equal(t, []events.Type{events.LeaseAcquired}, f.events.Types())
}

func TestAcquire_SameUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	_, _, err = f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)

	second, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	assert.Equal(t, lease.AlreadyHeldBySelf, second.Outcome)
	require.NotNil(t, second.Session)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, int64(1), f.sessionCount(t, "B001"), "no new session on re-activation")

	cmd, ok, err := f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok, "mailbox is re-loaded with the activation command")
	assert.Equal(t, "ACTIVATE:U1", cmd)

	f.assertHolderConsistent(t, "B001")
	assert.Equal(t, []events.Type{events.LeaseAcquired, events.LeaseRenotified}, f.events.Types())
}

func TestAcquire_OtherUserConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)

	_, err = f.leases.Acquire(ctx, "B001", "U2")
	require.ErrorIs(t, err, apperr.ErrConflict)
	var conflict *apperr.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "U1", conflict.Holder)

	bin := f.assertHolderConsistent(t, "B001")
	assert.Equal(t, "U1", bin.HolderID())
	assert.Equal(t, int64(1), f.sessionCount(t, "B001"))
}

func TestAcquire_ConcurrentUsersOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	users := []string{"U1", "U2", "U3", "U4"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   []string
		conflicts []string
	)
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := f.leases.Acquire(ctx, "B001", u)
			mu.Lock()
			defer mu.Unlock()
			var conflict *apperr.ConflictError
			switch {
			case err == nil:
				granted = append(granted, u)
			case errors.As(err, &conflict):
				conflicts = append(conflicts, conflict.Holder)
			default:
				t.Errorf("unexpected error for %s: %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	require.Len(t, granted, 1)
	require.Len(t, conflicts, len(users)-1)
	for _, holder := range conflicts {
		assert.Equal(t, granted[0], holder, "every loser sees the winner as holder")
	}

	bin := f.assertHolderConsistent(t, "B001")
	assert.Equal(t, granted[0], bin.HolderID())
	assert.Equal(t, int64(1), f.sessionCount(t, "B001"))
}

func TestAcquire_DifferentBinsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	_, err = f.leases.Acquire(ctx, "B002", "U2")
	require.NoError(t, err)

	assert.Equal(t, "U1", f.assertHolderConsistent(t, "B001").HolderID())
	assert.Equal(t, "U2", f.assertHolderConsistent(t, "B002").HolderID())
}

func TestAcquire_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.Acquire(ctx, "B404", "U1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.leases.Acquire(ctx, "B001", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, f.events.Types(), "failed transitions publish nothing")
}

func TestRelease_Holder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acq, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)

	res, err := f.leases.Release(ctx, "B001", "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", res.Holder)
	assert.Equal(t, lease.ByUser, res.By)

	bin := f.assertHolderConsistent(t, "B001")
	assert.Equal(t, model.LeaseInactive, bin.State)

	cmd, ok, err := f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "DEACTIVATE", cmd, "deactivation overwrites the undrained activation")

	session, err := f.store.LatestSession(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, acq.Session.ID, session.ID)
	assert.Equal(t, model.SessionClosed, session.Status)

	assert.Equal(t, []events.Type{events.LeaseAcquired, events.LeaseReleased}, f.events.Types())
}

func TestRelease_NonHolderIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	_, _, err = f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)

	_, err = f.leases.Release(ctx, "B001", "U2")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	bin := f.assertHolderConsistent(t, "B001")
	assert.Equal(t, "U1", bin.HolderID(), "state unchanged")
	_, ok, err := f.mailbox.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.False(t, ok, "no command on a rejected release")
}

func TestRelease_InactiveBinIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.Release(ctx, "B001", "U1")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.leases.Release(ctx, "B404", "U1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	f.assertHolderConsistent(t, "B001")
}

func TestReleaseByDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.leases.ReleaseByDevice(ctx, "B001")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "nothing to release")

	_, err = f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)

	res, err := f.leases.ReleaseByDevice(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, "U1", res.Holder)
	assert.Equal(t, lease.ByDevice, res.By)
	assert.Equal(t, model.LeaseInactive, f.assertHolderConsistent(t, "B001").State)

	entries, err := f.store.ListActivity(ctx, "B001", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Description, "by device")
}

func TestHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	held, err := f.leases.Holds(ctx, "B001", "U1")
	require.NoError(t, err)
	assert.False(t, held)

	_, err = f.leases.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)

	held, err = f.leases.Holds(ctx, "B001", "U1")
	require.NoError(t, err)
	assert.True(t, held)

	held, err = f.leases.Holds(ctx, "B001", "U2")
	require.NoError(t, err)
	assert.False(t, held)
}

// lockCheckingPublisher records whether the bin lock could be taken while an
// event was being published.
type lockCheckingPublisher struct {
	locks *binlock.Table

	mu      sync.Mutex
	blocked []events.Type
}

func (p *lockCheckingPublisher) Publish(event events.Event) error {
	acquired := make(chan struct{})
	go func() {
		unlock := p.locks.Lock(event.BinID)
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		p.mu.Lock()
		p.blocked = append(p.blocked, event.Type)
		p.mu.Unlock()
	}
	return nil
}

func TestPublishRunsOutsideBinLock(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")

	locks := binlock.New()
	pub := &lockCheckingPublisher{locks: locks}
	m := lease.NewManager(lease.Options{
		Store:     s,
		Locks:     locks,
		Mailbox:   mailbox.New(locks, s, nil),
		Publisher: pub,
	})

	_, err := m.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "B001", "U1")
	require.NoError(t, err)
	_, err = m.Release(ctx, "B001", "U1")
	require.NoError(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.blocked, "bin lock was held while publishing")
}
