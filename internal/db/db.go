package db

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recycle-bin-backend/config"
	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
)

// Init opens the configured database and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every table the coordinator uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Bin{},
		&model.LeaseSession{},
		&model.RecyclingRecord{},
		&model.Pricing{},
		&model.PointBalance{},
		&model.ActivityEntry{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// Seed registers the configured bins and writes the pricing policy when none
// exists yet. Existing rows are left untouched.
func Seed(ctx context.Context, s store.Store, seed config.SeedConfig) error {
	for _, sb := range seed.Bins {
		if sb.ID == "" {
			return fmt.Errorf("seed bin without id")
		}
		credential := sb.Credential
		if credential == "" {
			credential = NewCredential()
			log.Printf("Generated credential for bin %s: %s", sb.ID, credential)
		}
		bin := &model.Bin{
			ID:         sb.ID,
			Name:       sb.Name,
			Credential: credential,
			State:      model.LeaseInactive,
			Lat:        sb.Lat,
			Lng:        sb.Lng,
		}
		if err := s.CreateBin(ctx, bin); err != nil {
			return fmt.Errorf("seed bin %s: %w", sb.ID, err)
		}
	}

	_, err := s.GetPricing(ctx)
	switch {
	case err == nil:
		return nil
	case !apperr.IsNotFound(err):
		return err
	}

	pricing := model.DefaultPricing()
	if p := seed.Pricing; p != nil {
		if p.ItemsPerPoint != nil {
			pricing.ItemsPerPoint = p.ItemsPerPoint
		}
		if p.PricePerKg != nil {
			pricing.PricePerKg = p.PricePerKg
		}
		if p.ConversionRate > 0 {
			pricing.ConversionRate = p.ConversionRate
		}
	}
	log.Printf("Writing initial pricing policy: %v items/point", pricing.ItemsPerPoint)
	return s.SavePricing(ctx, &pricing)
}

// NewCredential returns a fresh device credential.
func NewCredential() string {
	return "BIN_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func openDialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
