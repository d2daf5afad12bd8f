package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/model"
)

// Store defines the document-store contract consumed by the coordinator.
// Every call is bounded by the store's operation timeout.
type Store interface {
	// Bins
	CreateBin(ctx context.Context, bin *model.Bin) error
	GetBin(ctx context.Context, binID string) (*model.Bin, error)
	ListBins(ctx context.Context) ([]model.Bin, error)
	FindBinIDByCredential(ctx context.Context, credential string) (string, error)
	MergeBin(ctx context.Context, binID string, fields map[string]any) error

	// Lease transitions, applied as conditional updates.
	AcquireLease(ctx context.Context, binID, userID string, at time.Time) (bool, error)
	ReleaseLease(ctx context.Context, binID, userID string, at time.Time) (bool, error)

	// Mailbox
	TakePendingCommand(ctx context.Context, binID string) (string, bool, error)

	// Lease sessions
	CreateSession(ctx context.Context, session *model.LeaseSession) error
	ActiveSession(ctx context.Context, binID string) (*model.LeaseSession, error)
	LatestSession(ctx context.Context, binID string) (*model.LeaseSession, error)
	CloseActiveSessions(ctx context.Context, binID string, at time.Time) error

	// Settlement
	IncrementPoints(ctx context.Context, userID string, delta int64) error
	GetPoints(ctx context.Context, userID string) (int64, error)
	CreateRecyclingRecords(ctx context.Context, records []model.RecyclingRecord) error
	ListRecyclingRecords(ctx context.Context, userID string) ([]model.RecyclingRecord, error)
	GetPricing(ctx context.Context) (*model.Pricing, error)
	SavePricing(ctx context.Context, pricing *model.Pricing) error

	// Audit
	AppendActivity(ctx context.Context, entry *model.ActivityEntry) error
	ListActivity(ctx context.Context, binID string, limit int) ([]model.ActivityEntry, error)

	// Push subscriptions
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)

	// Transaction runs fn against a Store bound to a single transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
	inTx    bool
}

// NewGormStore creates a new GORM-backed store. A zero timeout disables the
// per-operation deadline.
func NewGormStore(db *gorm.DB, timeout time.Duration) Store {
	return &gormStore{db: db, timeout: timeout}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// conn returns a session bound to a bounded context. Inside a transaction the
// outer deadline already applies.
func (s *gormStore) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.inTx || s.timeout <= 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	var fnErr error
	err := db.Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormStore{db: tx, timeout: s.timeout, inTx: true})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return apperr.StoreFailure("transaction", err)
	}
	return err
}

// --- Bins ---

func (s *gormStore) CreateBin(ctx context.Context, bin *model.Bin) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	if bin.State == "" {
		bin.State = model.LeaseInactive
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(bin).Error
	return apperr.StoreFailure("create bin", err)
}

func (s *gormStore) GetBin(ctx context.Context, binID string) (*model.Bin, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var bin model.Bin
	if err := db.First(&bin, "id = ?", binID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("bin", binID)
		}
		return nil, apperr.StoreFailure("get bin", err)
	}
	return &bin, nil
}

func (s *gormStore) ListBins(ctx context.Context) ([]model.Bin, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var bins []model.Bin
	if err := db.Order("id").Find(&bins).Error; err != nil {
		return nil, apperr.StoreFailure("list bins", err)
	}
	return bins, nil
}

func (s *gormStore) FindBinIDByCredential(ctx context.Context, credential string) (string, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var bin model.Bin
	err := db.Select("id").Where("credential = ?", credential).Take(&bin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("credential", "")
	}
	if err != nil {
		return "", apperr.StoreFailure("find bin by credential", err)
	}
	return bin.ID, nil
}

// MergeBin overwrites the given columns in one UPDATE statement.
func (s *gormStore) MergeBin(ctx context.Context, binID string, fields map[string]any) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	result := db.Model(&model.Bin{}).Where("id = ?", binID).Updates(fields)
	if result.Error != nil {
		return apperr.StoreFailure(fmt.Sprintf("merge bin %s", binID), result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("bin", binID)
	}
	return nil
}

// --- Lease transitions ---

// AcquireLease moves the bin from inactive to active. It reports false when
// the bin was not inactive at the time of the update.
func (s *gormStore) AcquireLease(ctx context.Context, binID, userID string, at time.Time) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	result := db.Model(&model.Bin{}).
		Where("id = ? AND state = ?", binID, model.LeaseInactive).
		Updates(map[string]any{
			"state":      model.LeaseActive,
			"holder":     userID,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, apperr.StoreFailure("acquire lease", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseLease moves the bin from active to inactive. An empty userID
// releases regardless of the holder.
func (s *gormStore) ReleaseLease(ctx context.Context, binID, userID string, at time.Time) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Model(&model.Bin{}).Where("id = ? AND state = ?", binID, model.LeaseActive)
	if userID != "" {
		q = q.Where("holder = ?", userID)
	}
	result := q.Updates(map[string]any{
		"state":      model.LeaseInactive,
		"holder":     nil,
		"updated_at": at,
	})
	if result.Error != nil {
		return false, apperr.StoreFailure("release lease", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// --- Mailbox ---

// TakePendingCommand reads and clears the bin's command slot atomically.
func (s *gormStore) TakePendingCommand(ctx context.Context, binID string) (string, bool, error) {
	var (
		command string
		found   bool
	)
	err := s.Transaction(ctx, func(tx Store) error {
		t := tx.(*gormStore)
		db, cancel := t.conn(ctx)
		defer cancel()

		var bin model.Bin
		err := db.Clauses(lockingClause(db)...).
			Select("id", "pending_command").
			Take(&bin, "id = ?", binID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("bin", binID)
		}
		if err != nil {
			return apperr.StoreFailure("read pending command", err)
		}
		if bin.PendingCommand == nil {
			return nil
		}

		command, found = *bin.PendingCommand, true
		err = db.Model(&model.Bin{}).Where("id = ?", binID).Updates(map[string]any{
			"pending_command":    nil,
			"pending_command_at": nil,
		}).Error
		return apperr.StoreFailure("clear pending command", err)
	})
	if err != nil {
		return "", false, err
	}
	return command, found, nil
}

// lockingClause adds SELECT ... FOR UPDATE on dialects that support it.
func lockingClause(db *gorm.DB) []clause.Expression {
	if db.Dialector.Name() == "postgres" {
		return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
	}
	return nil
}

// --- Lease sessions ---

func (s *gormStore) CreateSession(ctx context.Context, session *model.LeaseSession) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return apperr.StoreFailure("create session", db.Create(session).Error)
}

func (s *gormStore) ActiveSession(ctx context.Context, binID string) (*model.LeaseSession, error) {
	return s.findSession(ctx, "active session", sessionScope(func(q *gorm.DB) *gorm.DB {
		return q.Where("bin_id = ? AND status = ?", binID, model.SessionActive)
	}), binID)
}

func (s *gormStore) LatestSession(ctx context.Context, binID string) (*model.LeaseSession, error) {
	return s.findSession(ctx, "latest session", sessionScope(func(q *gorm.DB) *gorm.DB {
		return q.Where("bin_id = ?", binID)
	}), binID)
}

type sessionScope func(*gorm.DB) *gorm.DB

func (s *gormStore) findSession(ctx context.Context, what string, scope sessionScope, binID string) (*model.LeaseSession, error) {
	conn, cancel := s.conn(ctx)
	defer cancel()

	var session model.LeaseSession
	err := conn.Scopes(scope).Order("activated_at DESC").Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(what, binID)
	}
	if err != nil {
		return nil, apperr.StoreFailure(what, err)
	}
	return &session, nil
}

func (s *gormStore) CloseActiveSessions(ctx context.Context, binID string, at time.Time) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Model(&model.LeaseSession{}).
		Where("bin_id = ? AND status = ?", binID, model.SessionActive).
		Updates(map[string]any{"status": model.SessionClosed, "closed_at": at}).Error
	return apperr.StoreFailure("close sessions", err)
}

// --- Settlement ---

// IncrementPoints adds delta to the user's balance with a single upsert so
// concurrent credits never lose updates.
func (s *gormStore) IncrementPoints(ctx context.Context, userID string, delta int64) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	balance := model.PointBalance{UserID: userID, TotalPoints: delta, UpdatedAt: time.Now().UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_points": gorm.Expr("point_balances.total_points + ?", delta),
			"updated_at":   balance.UpdatedAt,
		}),
	}).Create(&balance).Error
	return apperr.StoreFailure("increment points", err)
}

func (s *gormStore) GetPoints(ctx context.Context, userID string) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var balance model.PointBalance
	err := db.Take(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.StoreFailure("get points", err)
	}
	return balance.TotalPoints, nil
}

func (s *gormStore) CreateRecyclingRecords(ctx context.Context, records []model.RecyclingRecord) error {
	if len(records) == 0 {
		return nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()
	return apperr.StoreFailure("create recycling records", db.Create(&records).Error)
}

func (s *gormStore) ListRecyclingRecords(ctx context.Context, userID string) ([]model.RecyclingRecord, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var records []model.RecyclingRecord
	err := db.Where("user_id = ?", userID).Order("created_at, category").Find(&records).Error
	if err != nil {
		return nil, apperr.StoreFailure("list recycling records", err)
	}
	return records, nil
}

func (s *gormStore) GetPricing(ctx context.Context) (*model.Pricing, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var pricing model.Pricing
	err := db.Take(&pricing, "id = ?", model.CurrentPricingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("pricing", model.CurrentPricingID)
	}
	if err != nil {
		return nil, apperr.StoreFailure("get pricing", err)
	}
	return &pricing, nil
}

func (s *gormStore) SavePricing(ctx context.Context, pricing *model.Pricing) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	pricing.ID = model.CurrentPricingID
	return apperr.StoreFailure("save pricing", db.Save(pricing).Error)
}

// --- Audit ---

func (s *gormStore) AppendActivity(ctx context.Context, entry *model.ActivityEntry) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return apperr.StoreFailure("append activity", db.Create(entry).Error)
}

func (s *gormStore) ListActivity(ctx context.Context, binID string, limit int) ([]model.ActivityEntry, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Order("id DESC")
	if binID != "" {
		q = q.Where("bin_id = ?", binID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []model.ActivityEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, apperr.StoreFailure("list activity", err)
	}
	return entries, nil
}

// --- Push subscriptions ---

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	return apperr.StoreFailure("save subscription", err)
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return apperr.StoreFailure("delete subscription", db.Delete(&model.PushSubscription{Endpoint: endpoint}).Error)
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var sub model.PushSubscription
	err := db.Take(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("subscription", endpoint)
	}
	if err != nil {
		return nil, apperr.StoreFailure("get subscription", err)
	}
	return &sub, nil
}

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var subs []model.PushSubscription
	if err := db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, apperr.StoreFailure("list subscriptions", err)
	}
	return subs, nil
}
