package subscriptions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscription_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  duration_days INTEGER NOT NULL,
  max_devices INTEGER NOT NULL DEFAULT 1,
  bandwidth_limit_mb INTEGER NOT NULL DEFAULT 0,
  price TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  features TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS user_subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  transaction_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  start_date DATETIME NOT NULL,
  end_date DATETIME NOT NULL,
  auto_renew INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  provider TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  provider_transaction_id TEXT,
  fraud_score REAL NOT NULL DEFAULT 0,
  failure_reason TEXT,
  provider_response TEXT,
  refunded_amount TEXT,
  retry_attempts INTEGER NOT NULL DEFAULT 0,
  activated_at DATETIME,
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	locks int
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]bool)}
}

func (l *memoryLocker) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	l.locks++
	return true, nil
}

func (l *memoryLocker) Del(ctx context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		delete(l.held, key)
	}
	return nil
}

func (l *memoryLocker) LockKey(scope, id string) string {
	return "test:lock:" + scope + ":" + id
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *Repository) {
	t.Helper()

	repo, err := NewRepository(db)
	require.NoError(t, err)
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})
	ob := outbox.NewService(outbox.NewRepository(db), logg)

	svc, err := NewService(ServiceParams{
		Repo:    repo,
		TxnRepo: txnRepo,
		Tx:      gormTxRunner{db: db},
		Locker:  newMemoryLocker(),
		Outbox:  ob,
		Logger:  logg,
	})
	require.NoError(t, err)
	return svc, repo
}

func seedPlan(t *testing.T, db *gorm.DB, id string, days int) {
	t.Helper()
	require.NoError(t, db.Create(&models.SubscriptionPlan{
		ID:           id,
		Name:         id,
		DurationDays: days,
		Price:        decimal.NewFromFloat(19.99),
		Currency:     "USD",
		Active:       true,
	}).Error)
}

func seedTransaction(t *testing.T, db *gorm.DB, userID uuid.UUID, planID string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Create(&models.PaymentTransaction{
		ID:        id,
		UserID:    userID,
		PlanID:    planID,
		Amount:    decimal.NewFromFloat(19.99),
		Currency:  "USD",
		Provider:  enums.PaymentProviderCard,
		Status:    enums.TransactionStatusCompleted,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}).Error)
	return id
}

func TestActivateCreatesSubscriptionAndStampsTransaction(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	userID := uuid.New()
	txnID := seedTransaction(t, db, userID, "monthly")

	require.NoError(t, svc.Activate(ctx, userID, "monthly", txnID))

	sub, err := repo.GetActiveByUser(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, txnID, sub.TransactionID)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), sub.EndDate, time.Minute)

	var txn models.PaymentTransaction
	require.NoError(t, db.Where("id = ?", txnID).First(&txn).Error)
	require.NotNil(t, txn.ActivatedAt)

	var eventCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionActivated).
		Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestActivateIsIdempotentPerTransaction(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	userID := uuid.New()
	txnID := seedTransaction(t, db, userID, "monthly")

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Activate(ctx, userID, "monthly", txnID))
	}

	var subCount int64
	require.NoError(t, db.Model(&models.UserSubscription{}).Count(&subCount).Error)
	assert.Equal(t, int64(1), subCount)

	var eventCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionActivated).
		Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestActivateSupersedesPreviousSubscription(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	seedPlan(t, db, "yearly", 365)
	userID := uuid.New()

	first := seedTransaction(t, db, userID, "monthly")
	require.NoError(t, svc.Activate(ctx, userID, "monthly", first))

	second := seedTransaction(t, db, userID, "yearly")
	require.NoError(t, svc.Activate(ctx, userID, "yearly", second))

	active, err := repo.GetActiveByUser(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, second, active.TransactionID)

	var activeCount int64
	require.NoError(t, db.Model(&models.UserSubscription{}).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)
}

func TestActivateConcurrentCompletionsSameUser(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	userID := uuid.New()
	first := seedTransaction(t, db, userID, "monthly")
	second := seedTransaction(t, db, userID, "monthly")

	var wg sync.WaitGroup
	for _, txnID := range []uuid.UUID{first, second} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			// Lock contention can surface as a Conflict error; retries are the
			// caller's concern, so retry here until one side wins.
			for i := 0; i < 50; i++ {
				if err := svc.Activate(ctx, userID, "monthly", id); err == nil {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
			t.Errorf("activation for %s never succeeded", id)
		}(txnID)
	}
	wg.Wait()

	var activeCount int64
	require.NoError(t, db.Model(&models.UserSubscription{}).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)
}

func TestCancelRevokesActiveSubscription(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	userID := uuid.New()
	txnID := seedTransaction(t, db, userID, "monthly")
	require.NoError(t, svc.Activate(ctx, userID, "monthly", txnID))

	require.NoError(t, svc.Cancel(ctx, txnID, "full refund", false))

	sub, err := repo.GetByTransactionID(ctx, nil, txnID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	// Without immediate revocation the end date stays where activation put it.
	assert.True(t, sub.EndDate.After(time.Now().Add(24*time.Hour)))

	// Cancel again: no error, no second event.
	require.NoError(t, svc.Cancel(ctx, txnID, "full refund", false))
	var eventCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionCancelled).
		Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestCancelImmediateRevocationCutsAccess(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	seedPlan(t, db, "monthly", 30)
	userID := uuid.New()
	txnID := seedTransaction(t, db, userID, "monthly")
	require.NoError(t, svc.Activate(ctx, userID, "monthly", txnID))

	require.NoError(t, svc.Cancel(ctx, txnID, "full refund", true))

	sub, err := repo.GetByTransactionID(ctx, nil, txnID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.EndDate.After(time.Now()))
}
