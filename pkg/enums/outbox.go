package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePaymentTransaction OutboxAggregateType = "payment_transaction"
	AggregateUserSubscription   OutboxAggregateType = "user_subscription"
	AggregateSecurityEvent      OutboxAggregateType = "security_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePaymentTransaction,
	AggregateUserSubscription,
	AggregateSecurityEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentInitiated          OutboxEventType = "payment_initiated"
	EventPaymentCompleted          OutboxEventType = "payment_completed"
	EventPaymentFailed             OutboxEventType = "payment_failed"
	EventPaymentExpired            OutboxEventType = "payment_expired"
	EventSubscriptionActivated     OutboxEventType = "subscription_activated"
	EventSubscriptionCancelled     OutboxEventType = "subscription_cancelled"
	EventRefundProcessed           OutboxEventType = "refund_processed"
	EventFraudSuspected            OutboxEventType = "fraud_suspected"
	EventFraudScoreRecorded        OutboxEventType = "fraud_score_recorded"
	EventWebhookSignatureRejected  OutboxEventType = "webhook_signature_rejected"
	EventWebhookOrphan             OutboxEventType = "webhook_orphan"
	EventTransactionStatusChanged  OutboxEventType = "transaction_status_changed"
	EventProviderRetriesExhausted  OutboxEventType = "provider_retries_exhausted"
	EventActivationReconcileDriven OutboxEventType = "activation_reconcile_driven"
)

var validEventTypes = []OutboxEventType{
	EventPaymentInitiated,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentExpired,
	EventSubscriptionActivated,
	EventSubscriptionCancelled,
	EventRefundProcessed,
	EventFraudSuspected,
	EventFraudScoreRecorded,
	EventWebhookSignatureRejected,
	EventWebhookOrphan,
	EventTransactionStatusChanged,
	EventProviderRetriesExhausted,
	EventActivationReconcileDriven,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsNotification reports whether downstream notification consumers care about
// the event; everything else flows to the audit topic only.
func (e OutboxEventType) IsNotification() bool {
	switch e {
	case EventPaymentCompleted, EventPaymentFailed, EventSubscriptionActivated,
		EventSubscriptionCancelled, EventRefundProcessed:
		return true
	default:
		return false
	}
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
