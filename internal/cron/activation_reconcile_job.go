package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

type subscriptionActivator interface {
	Activate(ctx context.Context, userID uuid.UUID, planID string, transactionID uuid.UUID) error
}

type outboxIdempotentEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ActivationReconcileJobParams configure the missed-activation sweeper.
type ActivationReconcileJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	TxnRepo   *transactions.Repository
	Activator subscriptionActivator
	Outbox    outboxIdempotentEmitter
	Grace     time.Duration
	BatchSize int
}

// NewActivationReconcileJob builds the job that re-drives activations for
// completed transactions that never got their subscription.
func NewActivationReconcileJob(params ActivationReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.TxnRepo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Activator == nil {
		return nil, fmt.Errorf("subscription activator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &activationReconcileJob{
		logg:      params.Logger,
		db:        params.DB,
		txnRepo:   params.TxnRepo,
		activator: params.Activator,
		outbox:    params.Outbox,
		grace:     grace,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type activationReconcileJob struct {
	logg      *logger.Logger
	db        txRunner
	txnRepo   *transactions.Repository
	activator subscriptionActivator
	outbox    outboxIdempotentEmitter
	grace     time.Duration
	batch     int
	now       func() time.Time
}

func (j *activationReconcileJob) Name() string { return "activation-reconcile" }

func (j *activationReconcileJob) Run(ctx context.Context) error {
	// The grace window keeps the sweep from racing an activation that is
	// still in flight on the request path.
	cutoff := j.now().UTC().Add(-j.grace)
	rows, err := j.txnRepo.FindCompletedUnactivated(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query unactivated completions: %w", err)
	}
	var errs []error
	count := 0
	for _, txn := range rows {
		if err := j.reconcile(ctx, txn); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "activation reconcile complete")
	return multierr.Combine(errs...)
}

func (j *activationReconcileJob) reconcile(ctx context.Context, txn models.PaymentTransaction) error {
	logCtx := j.logg.WithTransactionID(ctx, txn.ID.String())
	if err := j.activator.Activate(logCtx, txn.UserID, txn.PlanID, txn.ID); err != nil {
		return fmt.Errorf("re-drive activation for %s: %w", txn.ID, err)
	}
	j.logg.Warn(logCtx, "missed activation re-driven")
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventActivationReconcileDriven,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.ActivationReconcileDrivenEvent{
				TransactionID: txn.ID,
				UserID:        txn.UserID,
				CompletedFor:  txn.UpdatedAt,
			},
		})
	})
}
