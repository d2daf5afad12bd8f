// Package monitor periodically evaluates bin liveness and publishes
// online/offline transitions. Nothing is written back: online remains a
// read-time computation.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"recycle-bin-backend/config"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/heartbeat"
	"recycle-bin-backend/internal/store"
)

// Service watches every bin's liveness.
type Service struct {
	cfg       config.MonitorConfig
	store     store.Store
	tracker   *heartbeat.Tracker
	publisher events.Publisher
	now       func() time.Time

	mu   sync.Mutex
	last map[string]bool
}

// NewService creates a liveness monitor.
func NewService(cfg config.MonitorConfig, s store.Store, tracker *heartbeat.Tracker, publisher events.Publisher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		cfg:       cfg,
		store:     s,
		tracker:   tracker,
		publisher: publisher,
		now:       now,
		last:      make(map[string]bool),
	}
}

// Run scans in a loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Liveness monitor is disabled. Not starting.")
		return
	}
	log.Println("Starting liveness monitor...")

	s.ScanOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Liveness monitor shutting down.")
			return
		case <-timer.C:
			s.ScanOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// ScanOnce evaluates every bin and publishes an event for each bin whose
// liveness changed since the previous scan. The first observation of a bin
// only establishes its baseline.
func (s *Service) ScanOnce(ctx context.Context) []events.Event {
	bins, err := s.store.ListBins(ctx)
	if err != nil {
		log.Printf("Error listing bins for liveness scan: %v", err)
		return nil
	}

	now := s.now()
	var emitted []events.Event

	s.mu.Lock()
	for i := range bins {
		bin := &bins[i]
		online := s.tracker.OnlineAt(bin, now)
		prev, seen := s.last[bin.ID]
		s.last[bin.ID] = online
		if !seen || prev == online {
			continue
		}

		evt := events.Event{Type: events.DeviceOffline, BinID: bin.ID, Timestamp: now.UTC()}
		if online {
			evt.Type = events.DeviceOnline
		}
		emitted = append(emitted, evt)
	}
	s.mu.Unlock()

	for _, evt := range emitted {
		log.Printf("Bin %s is now %s", evt.BinID, evt.Type)
		events.Emit(s.publisher, evt)
	}
	return emitted
}
