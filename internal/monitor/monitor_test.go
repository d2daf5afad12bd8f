package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycle-bin-backend/config"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/heartbeat"
	"recycle-bin-backend/internal/monitor"
	"recycle-bin-backend/internal/testutil"
)

func TestScanOnce_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")
	testutil.SeedBin(t, s, "B002", "KEY2")

	clock := testutil.NewClock()
	tracker := heartbeat.NewTracker(s, time.Minute, "active", clock.Now)
	rec := &events.Recorder{}
	m := monitor.NewService(config.MonitorConfig{Enabled: true, Interval: time.Second}, s, tracker, rec, clock.Now)

	assert.Empty(t, m.ScanOnce(ctx), "first scan only sets the baseline")

	_, err := tracker.RecordHeartbeat(ctx, "B001", "active")
	require.NoError(t, err)

	emitted := m.ScanOnce(ctx)
	require.Len(t, emitted, 1)
	assert.Equal(t, events.DeviceOnline, emitted[0].Type)
	assert.Equal(t, "B001", emitted[0].BinID)

	assert.Empty(t, m.ScanOnce(ctx), "no change, no event")

	clock.Advance(2 * time.Minute)
	emitted = m.ScanOnce(ctx)
	require.Len(t, emitted, 1)
	assert.Equal(t, events.DeviceOffline, emitted[0].Type)

	assert.Equal(t, []events.Type{events.DeviceOnline, events.DeviceOffline}, rec.Types())
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	m := monitor.NewService(config.MonitorConfig{Enabled: false}, nil, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled monitor did not return")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := testutil.NewStore(t)
	tracker := heartbeat.NewTracker(s, time.Minute, "active", nil)
	m := monitor.NewService(config.MonitorConfig{Enabled: true, Interval: 10 * time.Millisecond}, s, tracker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
