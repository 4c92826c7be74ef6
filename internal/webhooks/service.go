package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/providers"
	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type activator interface {
	Activate(ctx context.Context, userID uuid.UUID, planID string, transactionID uuid.UUID) error
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type securityRecorder interface {
	RecordSignatureRejection(ctx context.Context, provider enums.PaymentProvider, ipAddress string) error
}

// Service ingests provider callbacks: verify, deduplicate, apply the guarded
// transition, and trigger activation only when this delivery performed the
// transition into completed.
type Service struct {
	registry  *providers.Registry
	txnRepo   *transactions.Repository
	activator activator
	guard     eventGuard
	security  securityRecorder
	tx        txRunner
	outbox    outboxPublisher
	logg      *logger.Logger
}

type ServiceParams struct {
	Registry  *providers.Registry
	TxnRepo   *transactions.Repository
	Activator activator
	Guard     eventGuard
	Security  securityRecorder
	Tx        txRunner
	Outbox    outboxPublisher
	Logger    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if params.TxnRepo == nil {
		return nil, errors.New("transactions repository is required")
	}
	if params.Activator == nil {
		return nil, errors.New("subscription activator is required")
	}
	if params.Guard == nil {
		return nil, errors.New("event guard is required")
	}
	if params.Security == nil {
		return nil, errors.New("security recorder is required")
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
		registry:  params.Registry,
		txnRepo:   params.TxnRepo,
		activator: params.Activator,
		guard:     params.Guard,
		security:  params.Security,
		tx:        params.Tx,
		outbox:    params.Outbox,
		logg:      params.Logger,
	}, nil
}

// HandleWebhook processes one provider delivery. A nil return means the
// delivery is acknowledged with 200, including duplicates and orphans; only
// signature failures and malformed payloads surface as errors.
func (s *Service) HandleWebhook(ctx context.Context, provider enums.PaymentProvider, rawPayload []byte, signatureHeader, remoteIP string) error {
	adapter, err := s.registry.For(provider)
	if err != nil {
		return err
	}
	ctx = s.logg.WithProvider(ctx, provider.String())

	if !adapter.VerifyWebhookSignature(rawPayload, signatureHeader) {
		if recErr := s.security.RecordSignatureRejection(ctx, provider, remoteIP); recErr != nil {
			s.logg.Error(ctx, "recording signature rejection failed", recErr)
		}
		s.logg.Warn(ctx, "webhook signature rejected")
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature verification failed")
	}

	event, err := adapter.MapWebhookEvent(rawPayload)
	if err != nil {
		return err
	}

	if event.EventID != "" {
		seen, err := s.guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			s.logg.Debug(ctx, "duplicate webhook event skipped")
			return nil
		}
	}

	if err := s.applyEvent(ctx, provider, event); err != nil {
		// Release the mark so the provider's redelivery can succeed.
		if event.EventID != "" {
			if delErr := s.guard.Delete(ctx, event.EventID); delErr != nil {
				s.logg.Error(ctx, "releasing idempotency mark failed", delErr)
			}
		}
		return err
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, provider enums.PaymentProvider, event *providers.WebhookEvent) error {
	txn, err := s.txnRepo.GetByProviderTransactionID(ctx, event.ProviderTransactionID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// Provider test or replay traffic: acknowledge, but leave an audit trail.
			s.logg.Warn(ctx, "webhook references unknown transaction")
			return s.recordOrphan(ctx, provider, event)
		}
		return err
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())

	expected := expectedStatesFor(event.NewStatus)
	if expected == nil {
		s.logg.Debug(ctx, "webhook status change is a no-op")
		return nil
	}

	performed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var updates map[string]any
		if event.NewStatus == enums.TransactionStatusFailed {
			reason := "provider reported failure"
			updates = map[string]any{"failure_reason": reason}
		}
		done, err := s.txnRepo.Transition(ctx, tx, txn.ID, expected, event.NewStatus, updates)
		if err != nil || !done {
			return err
		}
		performed = true

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionStatusChanged,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Data: payloads.TransactionStatusChangedEvent{
				TransactionID: txn.ID,
				From:          txn.Status,
				To:            event.NewStatus,
				ChangedAt:     time.Now(),
			},
		}); err != nil {
			return err
		}

		switch event.NewStatus {
		case enums.TransactionStatusCompleted:
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentCompleted,
				AggregateType: enums.AggregatePaymentTransaction,
				AggregateID:   txn.ID,
				Version:       1,
				Data: payloads.PaymentCompletedEvent{
					TransactionID:         txn.ID,
					UserID:                txn.UserID,
					PlanID:                txn.PlanID,
					Provider:              txn.Provider,
					ProviderTransactionID: event.ProviderTransactionID,
					Amount:                txn.Amount,
					Currency:              txn.Currency,
					CompletedAt:           time.Now(),
				},
			})
		case enums.TransactionStatusFailed:
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentFailed,
				AggregateType: enums.AggregatePaymentTransaction,
				AggregateID:   txn.ID,
				Version:       1,
				Data: payloads.PaymentFailedEvent{
					TransactionID: txn.ID,
					UserID:        txn.UserID,
					Provider:      txn.Provider,
					Reason:        "provider reported failure",
					FailedAt:      time.Now(),
				},
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !performed {
		// Duplicate or out-of-order delivery: the row already advanced.
		s.logg.Debug(ctx, "webhook transition already applied")
		return nil
	}

	// Only the delivery that performed the transition into completed
	// triggers activation; this is the double-activation guard.
	if event.NewStatus == enums.TransactionStatusCompleted {
		if err := s.activator.Activate(ctx, txn.UserID, txn.PlanID, txn.ID); err != nil {
			s.logg.Error(ctx, "activation after webhook completion failed", err)
		}
	}
	return nil
}

func (s *Service) recordOrphan(ctx context.Context, provider enums.PaymentProvider, event *providers.WebhookEvent) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWebhookOrphan,
			AggregateType: enums.AggregateSecurityEvent,
			AggregateID:   uuid.New(),
			Version:       1,
			Data: payloads.WebhookOrphanEvent{
				Provider:              provider,
				ProviderTransactionID: event.ProviderTransactionID,
				EventID:               event.EventID,
				ReceivedAt:            time.Now(),
			},
		})
	})
}

// expectedStatesFor returns the CAS precondition for a webhook-driven target
// status, or nil when the target cannot be driven by a webhook.
func expectedStatesFor(target enums.TransactionStatus) []enums.TransactionStatus {
	switch target {
	case enums.TransactionStatusCompleted, enums.TransactionStatusFailed:
		return []enums.TransactionStatus{
			enums.TransactionStatusPending,
			enums.TransactionStatusProcessing,
		}
	case enums.TransactionStatusProcessing:
		return []enums.TransactionStatus{enums.TransactionStatusPending}
	default:
		return nil
	}
}
