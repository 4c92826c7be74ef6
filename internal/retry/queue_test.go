package retry

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
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
)

func setupRetryTestDB(t *testing.T) *gorm.DB {
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

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: make(map[string]bool)}
}

func (c *memoryClaims) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memoryClaims) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.keys, key)
	}
	return nil
}

func (c *memoryClaims) ClaimKey(scope, id string) string {
	return "claim:" + scope + ":" + id
}

// scriptedDispatcher answers each attempt from a fixed script, then signals
// when the script is spent.
type scriptedDispatcher struct {
	mu      sync.Mutex
	script  []bool
	calls   int
	drained chan struct{}
	once    sync.Once
}

func newScriptedDispatcher(script ...bool) *scriptedDispatcher {
	return &scriptedDispatcher{script: script, drained: make(chan struct{})}
}

func (d *scriptedDispatcher) RetryDispatch(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx >= len(d.script)-1 {
		d.once.Do(func() { close(d.drained) })
	}
	if idx >= len(d.script) {
		return false, nil
	}
	return d.script[idx], nil
}

func (d *scriptedDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newRetryQueue(t *testing.T, db *gorm.DB, disp dispatcher, cfg config.RetryConfig) *Queue {
	t.Helper()
	txnRepo, err := transactions.NewRepository(db)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel})

	q, err := NewQueue(QueueParams{
		Dispatcher: disp,
		TxnRepo:    txnRepo,
		Claims:     newMemoryClaims(),
		Tx:         gormTxRunner{db: db},
		Outbox:     outbox.NewService(outbox.NewRepository(db), logg),
		Logger:     logg,
		Cfg:        cfg,
	})
	require.NoError(t, err)
	return q
}

func seedPendingTxn(t *testing.T, db *gorm.DB) *models.PaymentTransaction {
	t.Helper()
	txn := &models.PaymentTransaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PlanID:    "monthly",
		Amount:    decimal.NewFromFloat(19.99),
		Currency:  "USD",
		Provider:  enums.PaymentProviderHostedCharge,
		Status:    enums.TransactionStatusPending,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, db.Create(txn).Error)
	return txn
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		QueueSize:   16,
		Workers:     2,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		ClaimTTL:    time.Minute,
	}
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	db := setupRetryTestDB(t)
	txn := seedPendingTxn(t, db)

	// Two transient failures, then success.
	disp := newScriptedDispatcher(true, true, false)
	q := newRetryQueue(t, db, disp, testRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, txn.ID))
	select {
	case <-disp.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never drained")
	}
	q.Stop()

	assert.Equal(t, 3, disp.callCount())

	// The row stays pending here; the dispatcher settles it in production.
	var got models.PaymentTransaction
	require.NoError(t, db.First(&got, "id = ?", txn.ID).Error)
	assert.Equal(t, enums.TransactionStatusPending, got.Status)
}

func TestQueueExhaustsAfterMaxAttempts(t *testing.T) {
	db := setupRetryTestDB(t)
	txn := seedPendingTxn(t, db)

	disp := newScriptedDispatcher(true, true, true)
	q := newRetryQueue(t, db, disp, testRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, txn.ID))
	select {
	case <-disp.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never drained")
	}
	q.Stop()

	var got models.PaymentTransaction
	require.NoError(t, db.First(&got, "id = ?", txn.ID).Error)
	assert.Equal(t, enums.TransactionStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "provider retries exhausted", *got.FailureReason)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventProviderRetriesExhausted).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestQueueFullReturnsDependencyError(t *testing.T) {
	db := setupRetryTestDB(t)
	cfg := testRetryConfig()
	cfg.QueueSize = 1
	q := newRetryQueue(t, db, newScriptedDispatcher(), cfg)

	// Not started: the single slot fills and the next enqueue is rejected.
	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))
	err := q.Enqueue(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestQueueEnqueueAfterStopReturnsError(t *testing.T) {
	db := setupRetryTestDB(t)
	q := newRetryQueue(t, db, newScriptedDispatcher(), testRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Stop()

	// A handler still draining during shutdown must get an error, not a
	// send on a closed channel.
	err := q.Enqueue(ctx, uuid.New())
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)

	// Stop stays safe to call again.
	q.Stop()
}

func TestQueueExhaustionLeavesSettledRowAlone(t *testing.T) {
	db := setupRetryTestDB(t)
	txn := seedPendingTxn(t, db)

	// Settle the row before the retry budget runs out.
	require.NoError(t, db.Model(&models.PaymentTransaction{}).
		Where("id = ?", txn.ID).
		Update("status", enums.TransactionStatusCompleted).Error)

	disp := newScriptedDispatcher(true, true, true)
	q := newRetryQueue(t, db, disp, testRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, txn.ID))
	select {
	case <-disp.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never drained")
	}
	q.Stop()

	var got models.PaymentTransaction
	require.NoError(t, db.First(&got, "id = ?", txn.ID).Error)
	assert.Equal(t, enums.TransactionStatusCompleted, got.Status)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
