// Package testutil wires an in-memory sqlite store for package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recycle-bin-backend/internal/db"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
)

// NewStore returns a migrated store backed by a private in-memory database.
// The pool is limited to one connection so sqlite never reports a locked
// table under concurrent tests.
func NewStore(t *testing.T) store.Store {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB, 10*time.Second)
}

// SeedBin registers an inactive bin with the given credential.
func SeedBin(t *testing.T, s store.Store, id, credential string) *model.Bin {
	t.Helper()
	bin := &model.Bin{ID: id, Name: "Bin " + id, Credential: credential, State: model.LeaseInactive}
	require.NoError(t, s.DB().Create(bin).Error)
	return bin
}

// SeedPricing writes the pricing policy used by settlement tests.
func SeedPricing(t *testing.T, s store.Store, itemsPerPoint, pricePerKg map[string]float64) {
	t.Helper()
	p := model.DefaultPricing()
	if itemsPerPoint != nil {
		p.ItemsPerPoint = itemsPerPoint
	}
	if pricePerKg != nil {
		p.PricePerKg = pricePerKg
	}
	require.NoError(t, s.DB().Save(&p).Error)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
