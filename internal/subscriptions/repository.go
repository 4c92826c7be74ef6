package subscriptions

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

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Repository{db: db}, nil
}

func (r *Repository) GetPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", planID, true).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "unknown subscription plan")
		}
		return nil, err
	}
	return &plan, nil
}

func (r *Repository) GetByTransactionID(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) (*models.UserSubscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub models.UserSubscription
	err := tx.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) GetActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.UserSubscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub models.UserSubscription
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
		}
		return nil, err
	}
	return &sub, nil
}

// ExpireActive marks the user's current ACTIVE row EXPIRED. Returns the number
// of rows touched so the caller can tell a first activation from a renewal.
func (r *Repository) ExpireActive(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&models.UserSubscription{}).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":     enums.SubscriptionStatusExpired,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, sub *models.UserSubscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sub).Error
}

// Cancel moves a subscription to CANCELLED. The end date is kept unless
// revokeNow clamps it to the cancellation time, cutting access immediately.
func (r *Repository) Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, revokeNow bool) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	updates := map[string]any{
		"status":       enums.SubscriptionStatusCancelled,
		"cancelled_at": at,
		"updated_at":   time.Now(),
	}
	if revokeNow {
		updates["end_date"] = at
	}
	result := tx.WithContext(ctx).
		Model(&models.UserSubscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusActive).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}
