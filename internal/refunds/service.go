package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/providers"
	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/metrics"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// subscriptionRevoker cancels the subscription tied to a fully refunded
// transaction, optionally cutting access immediately.
type subscriptionRevoker interface {
	Cancel(ctx context.Context, transactionID uuid.UUID, reason string, revokeNow bool) error
}

// Service issues refunds against the originating provider and settles the
// transaction into refunded.
type Service struct {
	registry *providers.Registry
	txnRepo  *transactions.Repository
	revoker  subscriptionRevoker
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	cfg      config.RefundsConfig
	timeout  time.Duration
}

type ServiceParams struct {
	Registry *providers.Registry
	TxnRepo  *transactions.Repository
	Revoker  subscriptionRevoker
	Tx       txRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Metrics  *metrics.PaymentMetrics
	Cfg      config.RefundsConfig
	PayCfg   config.PaymentsConfig
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if params.TxnRepo == nil {
		return nil, errors.New("transactions repository is required")
	}
	if params.Revoker == nil {
		return nil, errors.New("subscription revoker is required")
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
	return &Service{
		registry: params.Registry,
		txnRepo:  params.TxnRepo,
		revoker:  params.Revoker,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		cfg:      params.Cfg,
		timeout:  params.PayCfg.ProviderTimeout,
	}, nil
}

// Result describes a settled refund.
type Result struct {
	TransactionID    uuid.UUID
	Amount           decimal.Decimal
	Full             bool
	ProviderRefundID string
}

// Refund reverses a completed transaction. A nil amount refunds in full; a
// partial amount must be positive and at most the original charge. A full
// refund also cancels the linked subscription.
func (s *Service) Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal) (*Result, error) {
	txn, err := s.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())

	if txn.Status != enums.TransactionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "only completed transactions can be refunded")
	}
	if txn.ProviderTransactionID == nil || *txn.ProviderTransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "completed transaction has no provider reference")
	}

	refundAmount := txn.Amount
	if amount != nil {
		if !amount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "refund amount must be positive")
		}
		if amount.GreaterThan(txn.Amount) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "refund amount exceeds original charge")
		}
		refundAmount = *amount
	}
	full := refundAmount.Equal(txn.Amount)

	adapter, err := s.registry.For(txn.Provider)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	providerResult, err := adapter.Refund(callCtx, *txn.ProviderTransactionID, refundAmount, txn.Currency)
	s.metrics.ObserveProviderLatency(txn.Provider.String(), "refund", time.Since(started))
	if err != nil {
		s.logg.Error(ctx, "provider refund call failed", err)
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		performed, err := s.txnRepo.Transition(ctx, tx, txn.ID,
			[]enums.TransactionStatus{enums.TransactionStatusCompleted},
			enums.TransactionStatusRefunded,
			map[string]any{
				"refunded_amount":   refundAmount,
				"provider_response": providerResult.Raw,
			})
		if err != nil {
			return err
		}
		if !performed {
			s.logg.Debug(ctx, "refund transition already applied")
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundProcessed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.RefundProcessedEvent{
				TransactionID:    txn.ID,
				UserID:           txn.UserID,
				Provider:         txn.Provider,
				ProviderRefundID: providerResult.ProviderRefundID,
				Amount:           refundAmount,
				Full:             full,
				ProcessedAt:      time.Now(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncOutcome(txn.Provider.String(), enums.TransactionStatusRefunded.String())

	if full {
		if err := s.revoker.Cancel(ctx, txn.ID, "full refund", s.cfg.ImmediateRevocation); err != nil {
			s.logg.Error(ctx, "cancelling subscription after refund failed", err)
		}
	}

	s.logg.Info(ctx, "refund processed")
	return &Result{
		TransactionID:    txn.ID,
		Amount:           refundAmount,
		Full:             full,
		ProviderRefundID: providerResult.ProviderRefundID,
	}, nil
}
