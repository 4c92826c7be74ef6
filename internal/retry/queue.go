package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/metrics"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

const claimScope = "retry"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// dispatcher re-attempts the provider call for one pending transaction.
// It reports whether the attempt is worth retrying again.
type dispatcher interface {
	RetryDispatch(ctx context.Context, transactionID uuid.UUID) (bool, error)
}

// claimStore deduplicates attempts across workers.
type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ClaimKey(scope, id string) string
}

type item struct {
	transactionID uuid.UUID
	attempt       int
	readyAt       time.Time
}

// Queue schedules bounded, backed-off retries for transient provider
// failures. Each transaction is claimed before an attempt so concurrent
// workers never double-dispatch.
type Queue struct {
	ch         chan item
	dispatcher dispatcher
	txnRepo    *transactions.Repository
	claims     claimStore
	tx         txRunner
	outbox     outboxPublisher
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	cfg        config.RetryConfig

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.Mutex
	closed   bool
}

type QueueParams struct {
	Dispatcher dispatcher
	TxnRepo    *transactions.Repository
	Claims     claimStore
	Tx         txRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
	Cfg        config.RetryConfig
}

func NewQueue(params QueueParams) (*Queue, error) {
	if params.TxnRepo == nil {
		return nil, errors.New("transactions repository is required")
	}
	if params.Claims == nil {
		return nil, errors.New("claim store is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Cfg.QueueSize <= 0 {
		return nil, errors.New("queue size must be positive")
	}
	if params.Cfg.Workers <= 0 {
		return nil, errors.New("worker count must be positive")
	}
	return &Queue{
		ch:         make(chan item, params.Cfg.QueueSize),
		dispatcher: params.Dispatcher,
		txnRepo:    params.TxnRepo,
		claims:     params.Claims,
		tx:         params.Tx,
		outbox:     params.Outbox,
		logg:       params.Logger,
		metrics:    params.Metrics,
		cfg:        params.Cfg,
	}, nil
}

// SetDispatcher wires the dispatcher after construction. The payments service
// enqueues into this queue, so the two cannot be built in either order with
// both references set.
func (q *Queue) SetDispatcher(d dispatcher) {
	q.dispatcher = d
}

// Start launches the worker pool. Workers exit when the context is cancelled
// or Stop closes the queue. The dispatcher must be set before starting.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(ctx)
		}()
	}
}

// Stop closes the queue and waits for in-flight attempts to finish. Enqueue
// calls racing with Stop get a dependency error instead of a send on the
// closed channel.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Enqueue schedules the first retry for a transaction. A full queue is
// reported as a dependency error; the expiry sweep eventually settles
// transactions that never got their retry.
func (q *Queue) Enqueue(ctx context.Context, transactionID uuid.UUID) error {
	return q.push(item{
		transactionID: transactionID,
		attempt:       1,
		readyAt:       time.Now().Add(q.backoff(1)),
	})
}

func (q *Queue) push(it item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return pkgerrors.New(pkgerrors.CodeDependency, "retry queue is stopped")
	}
	select {
	case q.ch <- it:
		q.metrics.SetRetryDepth(len(q.ch))
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, "retry queue is full")
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			q.metrics.SetRetryDepth(len(q.ch))
			if !q.waitUntilReady(ctx, it.readyAt) {
				return
			}
			q.process(ctx, it)
		}
	}
}

func (q *Queue) waitUntilReady(ctx context.Context, readyAt time.Time) bool {
	delay := time.Until(readyAt)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *Queue) process(ctx context.Context, it item) {
	ctx = q.logg.WithTransactionID(ctx, it.transactionID.String())

	key := q.claims.ClaimKey(claimScope, it.transactionID.String())
	claimed, err := q.claims.SetNX(ctx, key, "1", q.cfg.ClaimTTL)
	if err != nil {
		q.logg.Error(ctx, "claiming retry failed", err)
		return
	}
	if !claimed {
		q.logg.Debug(ctx, "retry already claimed by another worker")
		return
	}
	defer func() {
		if delErr := q.claims.Del(context.WithoutCancel(ctx), key); delErr != nil {
			q.logg.Error(ctx, "releasing retry claim failed", delErr)
		}
	}()

	if it.attempt > q.cfg.MaxAttempts {
		q.exhaust(ctx, it)
		return
	}

	again, err := q.dispatcher.RetryDispatch(ctx, it.transactionID)
	if err != nil {
		q.logg.Error(ctx, "retry dispatch failed", err)
		again = true
	}
	if !again {
		return
	}

	next := item{
		transactionID: it.transactionID,
		attempt:       it.attempt + 1,
		readyAt:       time.Now().Add(q.backoff(it.attempt + 1)),
	}
	if next.attempt > q.cfg.MaxAttempts {
		q.exhaust(ctx, it)
		return
	}
	if pushErr := q.push(next); pushErr != nil {
		q.logg.Error(ctx, "rescheduling retry failed", pushErr)
	}
}

// exhaust settles a transaction whose retry budget ran out.
func (q *Queue) exhaust(ctx context.Context, it item) {
	txn, err := q.txnRepo.GetByID(ctx, it.transactionID)
	if err != nil {
		q.logg.Error(ctx, "loading transaction for exhaustion failed", err)
		return
	}

	reason := "provider retries exhausted"
	err = q.tx.WithTx(ctx, func(tx *gorm.DB) error {
		performed, err := q.txnRepo.Transition(ctx, tx, txn.ID,
			[]enums.TransactionStatus{enums.TransactionStatusPending},
			enums.TransactionStatusFailed,
			map[string]any{"failure_reason": reason})
		if err != nil || !performed {
			return err
		}
		if err := q.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProviderRetriesExhausted,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.ProviderRetriesExhaustedEvent{
				TransactionID: txn.ID,
				Provider:      txn.Provider,
				Attempts:      it.attempt,
			},
		}); err != nil {
			return err
		}
		return q.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.PaymentFailedEvent{
				TransactionID: txn.ID,
				UserID:        txn.UserID,
				Provider:      txn.Provider,
				Reason:        reason,
				FailedAt:      time.Now(),
			},
		})
	})
	if err != nil {
		q.logg.Error(ctx, "settling exhausted transaction failed", err)
		return
	}
	q.metrics.IncOutcome(txn.Provider.String(), enums.TransactionStatusFailed.String())
	q.logg.Warn(ctx, "provider retries exhausted")
}

// backoff doubles per attempt from the base, capped at the maximum.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if q.cfg.MaxBackoff > 0 && d > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return d
}
