package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// PaymentTransaction is the authoritative record of one payment attempt.
// Status changes only move through the guarded transition in the
// transactions repository; no other writer touches the row's status.
type PaymentTransaction struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                string                  `gorm:"column:plan_id;not null"`
	Amount                decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string                  `gorm:"column:currency;not null;default:'USD'"`
	Provider              enums.PaymentProvider   `gorm:"column:provider;type:payment_provider;not null"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	ProviderTransactionID *string                 `gorm:"column:provider_transaction_id;uniqueIndex:ux_payment_transactions_provider_txn,where:provider_transaction_id IS NOT NULL"`
	FraudScore            float64                 `gorm:"column:fraud_score;not null;default:0"`
	FailureReason         *string                 `gorm:"column:failure_reason"`
	ProviderResponse      json.RawMessage         `gorm:"column:provider_response;type:jsonb"`
	RefundedAmount        *decimal.Decimal        `gorm:"column:refunded_amount;type:numeric(12,2)"`
	RetryAttempts         int                     `gorm:"column:retry_attempts;not null;default:0"`
	ActivatedAt           *time.Time              `gorm:"column:activated_at"`
	ExpiresAt             time.Time               `gorm:"column:expires_at;not null"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
