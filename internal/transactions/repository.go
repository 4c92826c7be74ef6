package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
)

// Repository owns payment transaction rows and the guarded status transition.
// The compare-and-set transition is the engine's sole serialization point for
// state changes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(txn).Error
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}
	return &txn, nil
}

func (r *Repository) GetByProviderTransactionID(ctx context.Context, providerTxnID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider_transaction_id = ?", providerTxnID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}
	return &txn, nil
}

// Transition applies a compare-and-set status update: the row moves to target
// only if its current status is still one of expected, in one atomic UPDATE.
// It returns false with no error when the row already advanced; duplicate
// webhook deliveries land here and must stay silent.
func (r *Repository) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected []enums.TransactionStatus, target enums.TransactionStatus, updates map[string]any) (bool, error) {
	if len(expected) == 0 {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "expected statuses are required")
	}
	legal := false
	for _, from := range expected {
		if from.CanTransitionTo(target) {
			legal = true
			break
		}
	}
	if !legal {
		return false, pkgerrors.New(pkgerrors.CodeInvalidTransition, "illegal status transition")
	}

	if tx == nil {
		tx = r.db
	}
	values := map[string]any{
		"status":     target,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}
	result := tx.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkActivated stamps the moment the subscription activator ran for this
// transaction. The reconcile sweep uses the absence of the stamp to re-drive
// missed activations.
func (r *Repository) MarkActivated(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(map[string]any{"activated_at": at, "updated_at": time.Now()}).Error
}

// SetProviderResult records the provider's identifier and raw response after
// a successful initiate call.
func (r *Repository) SetProviderResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, providerTxnID string, raw []byte) error {
	if tx == nil {
		tx = r.db
	}
	values := map[string]any{"updated_at": time.Now()}
	if providerTxnID != "" {
		values["provider_transaction_id"] = providerTxnID
	}
	if len(raw) > 0 {
		values["provider_response"] = raw
	}
	return tx.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(values).Error
}

// BumpRetryAttempts increments the persisted retry counter.
func (r *Repository) BumpRetryAttempts(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_attempts": gorm.Expr("retry_attempts + 1"),
			"updated_at":     time.Now(),
		}).Error
}

// FindExpiredPending lists pending transactions past their deadline, oldest first.
func (r *Repository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.TransactionStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindCompletedUnactivated lists completed transactions that never received an
// activation stamp, skipping ones completed too recently to avoid racing the
// in-flight activation.
func (r *Repository) FindCompletedUnactivated(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND activated_at IS NULL AND updated_at < ?", enums.TransactionStatusCompleted, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
