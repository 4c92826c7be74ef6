package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// UserSubscription is one activation period. Created and mutated only by the
// subscription activator. The unique transaction id column is the storage
// level exactly-once guard; the partial ACTIVE index enforces at most one
// active row per user.
type UserSubscription struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID        string                   `gorm:"column:plan_id;not null"`
	TransactionID uuid.UUID                `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:ux_user_subscriptions_transaction"`
	Status        enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'ACTIVE'"`
	StartDate     time.Time                `gorm:"column:start_date;not null"`
	EndDate       time.Time                `gorm:"column:end_date;not null"`
	AutoRenew     bool                     `gorm:"column:auto_renew;not null;default:false"`
	CancelledAt   *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
