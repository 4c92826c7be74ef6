package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/internal/fraud"
	"github.com/dmtorres-dev/vpnpay-backend/internal/providers"
	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/metrics"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox/payloads"
)

// Request is a payment initiation ask, as received from the API layer.
type Request struct {
	UserID      uuid.UUID
	PlanID      string
	Amount      decimal.Decimal
	Currency    string
	Provider    enums.PaymentProvider
	SourceToken string
	ReturnURL   string
	IPAddress   string
}

// Result is returned to the caller after initiation. Continuation carries the
// rail-specific next step (approval URL, hosted page, deposit address).
type Result struct {
	TransactionID uuid.UUID
	Status        enums.TransactionStatus
	FraudScore    float64
	Continuation  map[string]string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type planReader interface {
	GetPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error)
}

type activator interface {
	Activate(ctx context.Context, userID uuid.UUID, planID string, transactionID uuid.UUID) error
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, transactionID uuid.UUID) error
}

// Service is the payment orchestrator: it gates requests on fraud, creates the
// transaction record, and dispatches to the matching provider adapter.
type Service struct {
	registry   *providers.Registry
	detector   *fraud.Detector
	history    fraud.HistoryReader
	txnRepo    *transactions.Repository
	plans      planReader
	activator  activator
	retry      retryEnqueuer
	tx         txRunner
	outbox     outboxPublisher
	logg       *logger.Logger
	payMetrics *metrics.PaymentMetrics
	fraudCfg   config.FraudConfig
	payCfg     config.PaymentsConfig
}

type ServiceParams struct {
	Registry  *providers.Registry
	Detector  *fraud.Detector
	History   fraud.HistoryReader
	TxnRepo   *transactions.Repository
	Plans     planReader
	Activator activator
	Retry     retryEnqueuer
	Tx        txRunner
	Outbox    outboxPublisher
	Logger    *logger.Logger
	Metrics   *metrics.PaymentMetrics
	FraudCfg  config.FraudConfig
	PayCfg    config.PaymentsConfig
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if params.Detector == nil {
		return nil, errors.New("fraud detector is required")
	}
	if params.History == nil {
		return nil, errors.New("fraud history reader is required")
	}
	if params.TxnRepo == nil {
		return nil, errors.New("transactions repository is required")
	}
	if params.Plans == nil {
		return nil, errors.New("plan reader is required")
	}
	if params.Activator == nil {
		return nil, errors.New("subscription activator is required")
	}
	if params.Retry == nil {
		return nil, errors.New("retry enqueuer is required")
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
		registry:   params.Registry,
		detector:   params.Detector,
		history:    params.History,
		txnRepo:    params.TxnRepo,
		plans:      params.Plans,
		activator:  params.Activator,
		retry:      params.Retry,
		tx:         params.Tx,
		outbox:     params.Outbox,
		logg:       params.Logger,
		payMetrics: params.Metrics,
		fraudCfg:   params.FraudCfg,
		payCfg:     params.PayCfg,
	}, nil
}

// ProcessPayment validates the request, applies the fraud gate, persists one
// transaction row, and invokes the selected provider adapter. Exactly one row
// is written per call; at most one provider charge attempt is made.
func (s *Service) ProcessPayment(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.For(req.Provider)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithUserID(ctx, req.UserID.String())

	score, err := s.scoreRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	txnID := uuid.New()
	ctx = s.logg.WithTransactionID(ctx, txnID.String())

	if s.detector.Suspect(score) {
		if err := s.recordFraudReject(ctx, txnID, req, score); err != nil {
			return nil, err
		}
		if s.payMetrics != nil {
			s.payMetrics.IncFraudBlock()
		}
		return nil, pkgerrors.New(pkgerrors.CodeFraudSuspected, "payment rejected by fraud screening")
	}

	txn := &models.PaymentTransaction{
		ID:         txnID,
		UserID:     req.UserID,
		PlanID:     plan.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Provider:   req.Provider,
		Status:     enums.TransactionStatusPending,
		FraudScore: score.Score,
		ExpiresAt:  time.Now().Add(s.payCfg.PendingExpiry),
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txnID,
			Version:       1,
			Data: payloads.PaymentInitiatedEvent{
				TransactionID: txnID,
				UserID:        req.UserID,
				PlanID:        plan.ID,
				Provider:      req.Provider,
				Amount:        req.Amount,
				Currency:      req.Currency,
				FraudScore:    score.Score,
				ExpiresAt:     txn.ExpiresAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	initiateCtx, cancel := context.WithTimeout(ctx, s.payCfg.ProviderTimeout)
	defer cancel()

	started := time.Now()
	initRes, err := adapter.Initiate(initiateCtx, providers.InitiateRequest{
		TransactionID: txnID,
		UserID:        req.UserID,
		PlanID:        plan.ID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		SourceToken:   req.SourceToken,
		ReturnURL:     req.ReturnURL,
	})
	if s.payMetrics != nil {
		s.payMetrics.ObserveProviderLatency(req.Provider.String(), "initiate", time.Since(started))
	}
	if err != nil {
		return s.handleInitiateFailure(ctx, txn, err)
	}

	if err := s.txnRepo.SetProviderResult(ctx, nil, txnID, initRes.ProviderTransactionID, initRes.Raw); err != nil {
		return nil, err
	}
	status, err := s.settleInitiateStatus(ctx, txn, initRes)
	if err != nil {
		return nil, err
	}
	if s.payMetrics != nil {
		s.payMetrics.IncOutcome(req.Provider.String(), status.String())
	}
	return &Result{
		TransactionID: txnID,
		Status:        status,
		FraudScore:    score.Score,
		Continuation:  initRes.Extra,
	}, nil
}

// RetryDispatch re-attempts the provider call for a transaction left pending
// by a transient failure. No re-scoring and no new rows: the existing record
// is the single source of truth. Returns true when another retry is warranted.
func (s *Service) RetryDispatch(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	txn, err := s.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if txn.Status != enums.TransactionStatusPending {
		// Settled by a webhook or the expiry sweep in the meantime.
		return false, nil
	}
	adapter, err := s.registry.For(txn.Provider)
	if err != nil {
		return false, err
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())

	if err := s.txnRepo.BumpRetryAttempts(ctx, txn.ID); err != nil {
		return false, err
	}

	initiateCtx, cancel := context.WithTimeout(ctx, s.payCfg.ProviderTimeout)
	defer cancel()

	started := time.Now()
	initRes, err := adapter.Initiate(initiateCtx, providers.InitiateRequest{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		PlanID:        txn.PlanID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
	})
	if s.payMetrics != nil {
		s.payMetrics.ObserveProviderLatency(txn.Provider.String(), "initiate", time.Since(started))
	}
	if err != nil {
		if pkgerrors.Retryable(err) {
			s.logg.Warn(ctx, "provider still unavailable on retry")
			return true, nil
		}
		_, failErr := s.handleInitiateFailure(ctx, txn, err)
		if failErr != nil && !errors.Is(failErr, err) {
			return false, failErr
		}
		return false, nil
	}

	if err := s.txnRepo.SetProviderResult(ctx, nil, txn.ID, initRes.ProviderTransactionID, initRes.Raw); err != nil {
		return false, err
	}
	status, err := s.settleInitiateStatus(ctx, txn, initRes)
	if err != nil {
		return false, err
	}
	if s.payMetrics != nil {
		s.payMetrics.IncOutcome(txn.Provider.String(), status.String())
	}
	return false, nil
}

func (s *Service) validate(req Request) error {
	switch {
	case req.UserID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "user id is required")
	case req.PlanID == "":
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "plan id is required")
	case !req.Amount.IsPositive():
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "amount must be positive")
	case req.Currency == "":
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "currency is required")
	case !req.Provider.IsValid():
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "unknown payment provider")
	}
	return nil
}

func (s *Service) scoreRequest(ctx context.Context, req Request) (fraud.Result, error) {
	recent, err := s.history.RecentTransactionCount(ctx, req.UserID, s.fraudCfg.VelocityWindow)
	if err != nil {
		return fraud.Result{}, err
	}
	avg, err := s.history.AverageCompletedAmount(ctx, req.UserID)
	if err != nil {
		return fraud.Result{}, err
	}
	flagged, err := s.history.IPHasReputationSignal(ctx, req.IPAddress)
	if err != nil {
		return fraud.Result{}, err
	}
	return s.detector.Score(fraud.Input{
		Amount:                  req.Amount,
		RecentTransactionCount:  recent,
		HistoricalAverageAmount: avg,
		IPHasReputationSignal:   flagged,
	}), nil
}

// recordFraudReject persists the rejected attempt with its score so fraud
// decisions stay auditable, then emits the audit event. No provider is ever
// contacted for these rows.
func (s *Service) recordFraudReject(ctx context.Context, txnID uuid.UUID, req Request, score fraud.Result) error {
	reason := "fraud suspected"
	txn := &models.PaymentTransaction{
		ID:            txnID,
		UserID:        req.UserID,
		PlanID:        req.PlanID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Provider:      req.Provider,
		Status:        enums.TransactionStatusFailed,
		FraudScore:    score.Score,
		FailureReason: &reason,
		ExpiresAt:     time.Now().Add(s.payCfg.PendingExpiry),
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFraudSuspected,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txnID,
			Version:       1,
			Data: payloads.FraudSuspectedEvent{
				TransactionID: txnID,
				UserID:        req.UserID,
				Score:         score.Score,
				Threshold:     s.fraudCfg.Threshold,
				Signals:       score.Signals,
			},
		})
	})
}

// handleInitiateFailure resolves an adapter error: transient failures leave
// the row pending and enqueue a retry; permanent declines fail the row.
func (s *Service) handleInitiateFailure(ctx context.Context, txn *models.PaymentTransaction, initErr error) (*Result, error) {
	if pkgerrors.Retryable(initErr) {
		s.logg.Warn(ctx, "provider unavailable, scheduling retry")
		if err := s.retry.Enqueue(ctx, txn.ID); err != nil {
			s.logg.Error(ctx, "enqueue retry failed", err)
		}
		return &Result{
			TransactionID: txn.ID,
			Status:        enums.TransactionStatusPending,
			FraudScore:    txn.FraudScore,
		}, nil
	}

	reason := initErr.Error()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		performed, err := s.txnRepo.Transition(ctx, tx, txn.ID,
			[]enums.TransactionStatus{enums.TransactionStatusPending},
			enums.TransactionStatusFailed,
			map[string]any{"failure_reason": reason})
		if err != nil || !performed {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
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
		return nil, err
	}
	if s.payMetrics != nil {
		s.payMetrics.IncOutcome(txn.Provider.String(), enums.TransactionStatusFailed.String())
	}
	return nil, initErr
}

// settleInitiateStatus lands the transaction in the status the provider
// reported synchronously. Card is the only rail returning terminal states here.
func (s *Service) settleInitiateStatus(ctx context.Context, txn *models.PaymentTransaction, res *providers.InitiateResult) (enums.TransactionStatus, error) {
	switch res.Status {
	case enums.TransactionStatusCompleted:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			performed, err := s.txnRepo.Transition(ctx, tx, txn.ID,
				[]enums.TransactionStatus{enums.TransactionStatusPending},
				enums.TransactionStatusCompleted, nil)
			if err != nil || !performed {
				return err
			}
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
					ProviderTransactionID: res.ProviderTransactionID,
					Amount:                txn.Amount,
					Currency:              txn.Currency,
					CompletedAt:           time.Now(),
				},
			})
		})
		if err != nil {
			return "", err
		}
		if err := s.activator.Activate(ctx, txn.UserID, txn.PlanID, txn.ID); err != nil {
			// The reconcile sweep re-drives activations that fail here.
			s.logg.Error(ctx, "activation after sync completion failed", err)
		}
		return enums.TransactionStatusCompleted, nil

	case enums.TransactionStatusFailed:
		reason := "provider declined"
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			performed, err := s.txnRepo.Transition(ctx, tx, txn.ID,
				[]enums.TransactionStatus{enums.TransactionStatusPending},
				enums.TransactionStatusFailed,
				map[string]any{"failure_reason": reason})
			if err != nil || !performed {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
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
			return "", err
		}
		return enums.TransactionStatusFailed, nil

	case enums.TransactionStatusProcessing:
		_, err := s.txnRepo.Transition(ctx, nil, txn.ID,
			[]enums.TransactionStatus{enums.TransactionStatusPending},
			enums.TransactionStatusProcessing, nil)
		if err != nil {
			return "", err
		}
		return enums.TransactionStatusProcessing, nil

	default:
		return enums.TransactionStatusPending, nil
	}
}
