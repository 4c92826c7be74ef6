package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	dbpkg "github.com/dmtorres-dev/vpnpay-backend/pkg/db"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

const (
	lockScope    = "subscription"
	lockTTL      = 30 * time.Second
	lockWait     = 2 * time.Second
	lockInterval = 50 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Locker provides the per-user serialization for activation.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// Service activates and cancels subscriptions. Activation is the only code
// path that creates UserSubscription rows.
type Service struct {
	repo    *Repository
	txnRepo *transactions.Repository
	tx      txRunner
	locker  Locker
	outbox  outboxPublisher
	logg    *logger.Logger
}

type ServiceParams struct {
	Repo    *Repository
	TxnRepo *transactions.Repository
	Tx      txRunner
	Locker  Locker
	Outbox  outboxPublisher
	Logger  *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("subscriptions repository is required")
	}
	if params.TxnRepo == nil {
		return nil, errors.New("transactions repository is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:    params.Repo,
		txnRepo: params.TxnRepo,
		tx:      params.Tx,
		locker:  params.Locker,
		outbox:  params.Outbox,
		logg:    params.Logger,
	}, nil
}

// Activate supersedes the user's current ACTIVE subscription with a new one
// for the plan paid by transactionID, atomically and exactly once per
// transaction. Safe to call repeatedly: a transaction that already produced a
// subscription row is a no-op.
func (s *Service) Activate(ctx context.Context, userID uuid.UUID, planID string, transactionID uuid.UUID) error {
	lockKey := s.locker.LockKey(lockScope, userID.String())
	acquired, err := s.acquireLock(ctx, lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return pkgerrors.New(pkgerrors.CodeConflict, "activation lock busy")
	}
	defer func() { _ = s.locker.Del(context.WithoutCancel(ctx), lockKey) }()

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.GetByTransactionID(ctx, tx, transactionID); err == nil {
			// This transaction already activated a subscription.
			s.logg.Debug(s.logg.WithTransactionID(ctx, transactionID.String()), "activation already applied")
			return nil
		} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return err
		}

		if _, err := s.repo.ExpireActive(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()
		sub := &models.UserSubscription{
			ID:            uuid.New(),
			UserID:        userID,
			PlanID:        plan.ID,
			TransactionID: transactionID,
			Status:        enums.SubscriptionStatusActive,
			StartDate:     now,
			EndDate:       now.AddDate(0, 0, plan.DurationDays),
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_user_subscriptions_transaction") {
				return nil
			}
			return err
		}

		if err := s.txnRepo.MarkActivated(ctx, tx, transactionID, now); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionActivated,
			AggregateType: enums.AggregateUserSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionActivatedEvent{
				SubscriptionID: sub.ID,
				TransactionID:  transactionID,
				UserID:         userID,
				PlanID:         plan.ID,
				StartDate:      sub.StartDate,
				EndDate:        sub.EndDate,
			},
		})
	})
}

// Cancel revokes the subscription created by the given transaction, typically
// after a full refund. The end date is left untouched unless revokeNow clamps
// it, cutting access immediately. No-op when the transaction never produced a
// subscription.
func (s *Service) Cancel(ctx context.Context, transactionID uuid.UUID, reason string, revokeNow bool) error {
	sub, err := s.repo.GetByTransactionID(ctx, nil, transactionID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cancelled, err := s.repo.Cancel(ctx, tx, sub.ID, time.Now(), revokeNow)
		if err != nil {
			return err
		}
		if !cancelled {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCancelled,
			AggregateType: enums.AggregateUserSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionCancelledEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Reason:         reason,
				CancelledAt:    time.Now(),
			},
		})
	})
}

func (s *Service) acquireLock(ctx context.Context, key string) (bool, error) {
	deadline := time.Now().Add(lockWait)
	for {
		ok, err := s.locker.SetNX(ctx, key, "1", lockTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockInterval):
		}
	}
}
