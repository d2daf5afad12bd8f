package mailbox_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/binlock"
	"recycle-bin-backend/internal/mailbox"
	"recycle-bin-backend/internal/testutil"
)

func newMailbox(t *testing.T) *mailbox.Mailbox {
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")
	testutil.SeedBin(t, s, "B002", "KEY2")
	return mailbox.New(binlock.New(), s, testutil.NewClock().Now)
}

func TestMailbox_DrainIsDestructive(t *testing.T) {
	ctx := context.Background()
	mb := newMailbox(t)

	require.NoError(t, mb.Enqueue(ctx, "B001", "ACTIVATE:U1"))

	cmd, ok, err := mb.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ACTIVATE:U1", cmd)

	_, ok, err = mb.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMailbox_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	mb := newMailbox(t)

	require.NoError(t, mb.Enqueue(ctx, "B001", "ACTIVATE:U1"))
	require.NoError(t, mb.Enqueue(ctx, "B001", "DEACTIVATE"))

	cmd, ok, err := mb.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "DEACTIVATE", cmd)
}

func TestMailbox_BinsAreIndependent(t *testing.T) {
	ctx := context.Background()
	mb := newMailbox(t)

	require.NoError(t, mb.Enqueue(ctx, "B001", "ACTIVATE:U1"))

	_, ok, err := mb.Drain(ctx, "B002")
	require.NoError(t, err)
	assert.False(t, ok)

	cmd, ok, err := mb.Drain(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ACTIVATE:U1", cmd)
}

func TestMailbox_ConcurrentDrainDeliversOnce(t *testing.T) {
	ctx := context.Background()
	mb := newMailbox(t)
	require.NoError(t, mb.Enqueue(ctx, "B001", "ACTIVATE:U1"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := mb.Drain(ctx, "B001")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, delivered)
}

func TestMailbox_Errors(t *testing.T) {
	ctx := context.Background()
	mb := newMailbox(t)

	assert.ErrorIs(t, mb.Enqueue(ctx, "B001", "  "), apperr.ErrValidation)
	assert.ErrorIs(t, mb.Enqueue(ctx, "B404", "DEACTIVATE"), apperr.ErrNotFound)

	_, _, err := mb.Drain(ctx, "B404")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
