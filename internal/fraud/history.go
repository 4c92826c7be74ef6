package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// HistoryReader supplies the aggregates the detector needs.
type HistoryReader interface {
	RecentTransactionCount(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error)
	AverageCompletedAmount(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	IPHasReputationSignal(ctx context.Context, ipAddress string) (bool, error)
}

// History reads fraud aggregates from the transactional store.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

func (h *History) RecentTransactionCount(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("user_id = ? AND created_at >= ?", userID, time.Now().Add(-window)).
		Count(&count).Error
	return int(count), err
}

func (h *History) AverageCompletedAmount(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var avg decimal.NullDecimal
	err := h.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Select("AVG(amount)").
		Where("user_id = ? AND status = ?", userID, enums.TransactionStatusCompleted).
		Scan(&avg).Error
	if err != nil || !avg.Valid {
		return decimal.Zero, err
	}
	return avg.Decimal, nil
}

func (h *History) IPHasReputationSignal(ctx context.Context, ipAddress string) (bool, error) {
	if ipAddress == "" {
		return false, nil
	}
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("ip_address = ? AND severity IN ?", ipAddress, []enums.SecuritySeverity{
			enums.SecuritySeverityHigh,
			enums.SecuritySeverityCritical,
		}).
		Count(&count).Error
	return count > 0, err
}
