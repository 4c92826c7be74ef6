package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ExpirySweepJobParams configure the pending transaction sweeper.
type ExpirySweepJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	TxnRepo   *transactions.Repository
	Outbox    outboxEmitter
	BatchSize int
}

// NewExpirySweepJob builds the job that expires pending transactions whose
// deadline passed without provider confirmation.
func NewExpirySweepJob(params ExpirySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.TxnRepo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &expirySweepJob{
		logg:    params.Logger,
		db:      params.DB,
		txnRepo: params.TxnRepo,
		outbox:  params.Outbox,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type expirySweepJob struct {
	logg    *logger.Logger
	db      txRunner
	txnRepo *transactions.Repository
	outbox  outboxEmitter
	batch   int
	now     func() time.Time
}

func (j *expirySweepJob) Name() string { return "expiry-sweep" }

func (j *expirySweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.txnRepo.FindExpiredPending(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("query expired pending transactions: %w", err)
	}
	var errs []error
	count := 0
	for _, txn := range rows {
		if err := j.expire(ctx, txn, now); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "expiry sweep complete")
	return multierr.Combine(errs...)
}

func (j *expirySweepJob) expire(ctx context.Context, txn models.PaymentTransaction, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		// The CAS absorbs a webhook completing the row between the
		// query and this transition.
		performed, err := j.txnRepo.Transition(ctx, tx, txn.ID,
			[]enums.TransactionStatus{enums.TransactionStatusPending},
			enums.TransactionStatusExpired, nil)
		if err != nil || !performed {
			return err
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentExpired,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.PaymentExpiredEvent{
				TransactionID: txn.ID,
				UserID:        txn.UserID,
				Provider:      txn.Provider,
				ExpiredAt:     now,
				PendingSince:  txn.CreatedAt,
			},
		})
	})
}
