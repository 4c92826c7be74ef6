package cron

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

func setupCronTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
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

func seedTxn(t *testing.T, db *gorm.DB, status enums.TransactionStatus, expiresAt time.Time) *models.PaymentTransaction {
	t.Helper()
	txn := &models.PaymentTransaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PlanID:    "monthly",
		Amount:    decimal.NewFromFloat(19.99),
		Currency:  "USD",
		Provider:  enums.PaymentProviderCryptoAddress,
		Status:    status,
		ExpiresAt: expiresAt,
	}
	require.NoError(t, db.Create(txn).Error)
	return txn
}

func countEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error)
	return count
}

func TestExpirySweepJobExpiresStalePending(t *testing.T) {
	db := setupCronTestDB(t)
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})

	stale := seedTxn(t, db, enums.TransactionStatusPending, time.Now().Add(-time.Hour))
	fresh := seedTxn(t, db, enums.TransactionStatusPending, time.Now().Add(time.Hour))
	settled := seedTxn(t, db, enums.TransactionStatusCompleted, time.Now().Add(-time.Hour))

	job, err := NewExpirySweepJob(ExpirySweepJobParams{
		Logger:  logg,
		DB:      gormTxRunner{db: db},
		TxnRepo: txnRepo,
		Outbox:  outbox.NewService(outbox.NewRepository(db), logg),
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var got models.PaymentTransaction
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.TransactionStatusExpired, got.Status)

	got = models.PaymentTransaction{}
	require.NoError(t, db.First(&got, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.TransactionStatusPending, got.Status)

	got = models.PaymentTransaction{}
	require.NoError(t, db.First(&got, "id = ?", settled.ID).Error)
	assert.Equal(t, enums.TransactionStatusCompleted, got.Status)

	assert.Equal(t, int64(1), countEvents(t, db, enums.EventPaymentExpired))
}

func TestExpirySweepJobIdempotentAcrossRuns(t *testing.T) {
	db := setupCronTestDB(t)
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})

	seedTxn(t, db, enums.TransactionStatusPending, time.Now().Add(-time.Hour))

	job, err := NewExpirySweepJob(ExpirySweepJobParams{
		Logger:  logg,
		DB:      gormTxRunner{db: db},
		TxnRepo: txnRepo,
		Outbox:  outbox.NewService(outbox.NewRepository(db), logg),
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, int64(1), countEvents(t, db, enums.EventPaymentExpired))
}

type reconcileActivator struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (a *reconcileActivator) Activate(ctx context.Context, userID uuid.UUID, planID string, transactionID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, transactionID)
	return nil
}

func TestActivationReconcileJobReDrivesMissedActivations(t *testing.T) {
	db := setupCronTestDB(t)
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})

	// Completed long ago without an activation stamp.
	missed := seedTxn(t, db, enums.TransactionStatusCompleted, time.Now().Add(time.Hour))
	require.NoError(t, db.Model(&models.PaymentTransaction{}).
		Where("id = ?", missed.ID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	// Already activated: must not be touched.
	stamped := seedTxn(t, db, enums.TransactionStatusCompleted, time.Now().Add(time.Hour))
	now := time.Now()
	require.NoError(t, db.Model(&models.PaymentTransaction{}).
		Where("id = ?", stamped.ID).
		Updates(map[string]any{
			"activated_at": now,
			"updated_at":   now.Add(-time.Hour),
		}).Error)

	activatorStub := &reconcileActivator{}
	job, err := NewActivationReconcileJob(ActivationReconcileJobParams{
		Logger:    logg,
		DB:        gormTxRunner{db: db},
		TxnRepo:   txnRepo,
		Activator: activatorStub,
		Outbox:    outbox.NewService(outbox.NewRepository(db), logg),
		Grace:     2 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, activatorStub.calls, 1)
	assert.Equal(t, missed.ID, activatorStub.calls[0])
	assert.Equal(t, int64(1), countEvents(t, db, enums.EventActivationReconcileDriven))
}

func TestActivationReconcileJobHonorsGraceWindow(t *testing.T) {
	db := setupCronTestDB(t)
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})

	// Completed seconds ago: the request-path activation may still be running.
	seedTxn(t, db, enums.TransactionStatusCompleted, time.Now().Add(time.Hour))

	activatorStub := &reconcileActivator{}
	job, err := NewActivationReconcileJob(ActivationReconcileJobParams{
		Logger:    logg,
		DB:        gormTxRunner{db: db},
		TxnRepo:   txnRepo,
		Activator: activatorStub,
		Outbox:    outbox.NewService(outbox.NewRepository(db), logg),
		Grace:     2 * time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	assert.Empty(t, activatorStub.calls)
}
