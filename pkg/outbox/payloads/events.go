package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// PaymentInitiatedEvent signals a newly created pending transaction.
type PaymentInitiatedEvent struct {
	TransactionID uuid.UUID             `json:"transactionId"`
	UserID        uuid.UUID             `json:"userId"`
	PlanID        string                `json:"planId"`
	Provider      enums.PaymentProvider `json:"provider"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency"`
	FraudScore    float64               `json:"fraudScore"`
	ExpiresAt     time.Time             `json:"expiresAt"`
}

// PaymentCompletedEvent is emitted when a transaction reaches completed.
type PaymentCompletedEvent struct {
	TransactionID         uuid.UUID             `json:"transactionId"`
	UserID                uuid.UUID             `json:"userId"`
	PlanID                string                `json:"planId"`
	Provider              enums.PaymentProvider `json:"provider"`
	ProviderTransactionID string                `json:"providerTransactionId,omitempty"`
	Amount                decimal.Decimal       `json:"amount"`
	Currency              string                `json:"currency"`
	CompletedAt           time.Time             `json:"completedAt"`
}

// PaymentFailedEvent carries the terminal failure reason.
type PaymentFailedEvent struct {
	TransactionID uuid.UUID             `json:"transactionId"`
	UserID        uuid.UUID             `json:"userId"`
	Provider      enums.PaymentProvider `json:"provider"`
	Reason        string                `json:"reason,omitempty"`
	FailedAt      time.Time             `json:"failedAt"`
}

// PaymentExpiredEvent describes a pending transaction swept past its deadline.
type PaymentExpiredEvent struct {
	TransactionID uuid.UUID             `json:"transactionId"`
	UserID        uuid.UUID             `json:"userId"`
	Provider      enums.PaymentProvider `json:"provider"`
	ExpiredAt     time.Time             `json:"expiredAt"`
	PendingSince  time.Time             `json:"pendingSince"`
}

// SubscriptionActivatedEvent signals one activation from a completed payment.
type SubscriptionActivatedEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	TransactionID  uuid.UUID `json:"transactionId"`
	UserID         uuid.UUID `json:"userId"`
	PlanID         string    `json:"planId"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
}

// SubscriptionCancelledEvent is emitted when an active subscription is revoked.
type SubscriptionCancelledEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	UserID         uuid.UUID `json:"userId"`
	Reason         string    `json:"reason,omitempty"`
	CancelledAt    time.Time `json:"cancelledAt"`
}

// RefundProcessedEvent reports a provider-confirmed refund.
type RefundProcessedEvent struct {
	TransactionID    uuid.UUID             `json:"transactionId"`
	UserID           uuid.UUID             `json:"userId"`
	Provider         enums.PaymentProvider `json:"provider"`
	ProviderRefundID string                `json:"providerRefundId,omitempty"`
	Amount           decimal.Decimal       `json:"amount"`
	Full             bool                  `json:"full"`
	ProcessedAt      time.Time             `json:"processedAt"`
}

// FraudSuspectedEvent records a payment blocked before dispatch.
type FraudSuspectedEvent struct {
	TransactionID uuid.UUID `json:"transactionId"`
	UserID        uuid.UUID `json:"userId"`
	Score         float64   `json:"score"`
	Threshold     float64   `json:"threshold"`
	Signals       []string  `json:"signals,omitempty"`
}

// FraudScoreRecordedEvent carries the score attached to an allowed payment.
type FraudScoreRecordedEvent struct {
	TransactionID uuid.UUID `json:"transactionId"`
	UserID        uuid.UUID `json:"userId"`
	Score         float64   `json:"score"`
	Signals       []string  `json:"signals,omitempty"`
}

// WebhookSignatureRejectedEvent audits a webhook failing HMAC verification.
type WebhookSignatureRejectedEvent struct {
	Provider   enums.PaymentProvider `json:"provider"`
	IPAddress  string                `json:"ipAddress,omitempty"`
	ReceivedAt time.Time             `json:"receivedAt"`
}

// WebhookOrphanEvent audits a verified webhook with no matching transaction.
type WebhookOrphanEvent struct {
	Provider              enums.PaymentProvider `json:"provider"`
	ProviderTransactionID string                `json:"providerTransactionId"`
	EventID               string                `json:"eventId,omitempty"`
	ReceivedAt            time.Time             `json:"receivedAt"`
}

// TransactionStatusChangedEvent mirrors every guarded status transition.
type TransactionStatusChangedEvent struct {
	TransactionID uuid.UUID               `json:"transactionId"`
	From          enums.TransactionStatus `json:"from"`
	To            enums.TransactionStatus `json:"to"`
	ChangedAt     time.Time               `json:"changedAt"`
}

// ProviderRetriesExhaustedEvent marks a transaction failed after the retry budget.
type ProviderRetriesExhaustedEvent struct {
	TransactionID uuid.UUID             `json:"transactionId"`
	Provider      enums.PaymentProvider `json:"provider"`
	Attempts      int                   `json:"attempts"`
	LastError     string                `json:"lastError,omitempty"`
}

// ActivationReconcileDrivenEvent reports a completed transaction whose missed
// activation was re-driven by the reconcile sweep.
type ActivationReconcileDrivenEvent struct {
	TransactionID uuid.UUID `json:"transactionId"`
	UserID        uuid.UUID `json:"userId"`
	CompletedFor  time.Time `json:"completedFor"`
}
