package providers

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// InitiateRequest carries everything an adapter needs to start a charge.
// The transaction id doubles as the idempotency key sent to the provider.
type InitiateRequest struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	PlanID        string
	Amount        decimal.Decimal
	Currency      string
	SourceToken   string
	ReturnURL     string
}

// InitiateResult is the provider's answer to an initiate call. Extra carries
// rail-specific continuation data: a redirect URL, a hosted-page URL, or a
// deposit address with its QR payload.
type InitiateResult struct {
	ProviderTransactionID string
	Status                enums.TransactionStatus
	Extra                 map[string]string
	Raw                   json.RawMessage
}

// WebhookEvent is a provider callback translated into engine vocabulary.
type WebhookEvent struct {
	EventID               string
	ProviderTransactionID string
	NewStatus             enums.TransactionStatus
	Raw                   json.RawMessage
}

// RefundResult reports a provider-confirmed refund.
type RefundResult struct {
	ProviderRefundID string
	Raw              json.RawMessage
}

// Adapter is the uniform capability set each payment rail implements.
// Adapters hold credentials and all provider HTTP logic; they contain no
// subscription or fraud logic.
type Adapter interface {
	Provider() enums.PaymentProvider
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool
	MapWebhookEvent(payload []byte) (*WebhookEvent, error)
	Refund(ctx context.Context, providerTransactionID string, amount decimal.Decimal, currency string) (*RefundResult, error)
}

// Registry resolves adapters by provider, chosen once at the orchestrator
// boundary instead of branching per call site.
type Registry struct {
	adapters map[enums.PaymentProvider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{adapters: make(map[enums.PaymentProvider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		reg.adapters[a.Provider()] = a
	}
	return reg
}

func (r *Registry) For(provider enums.PaymentProvider) (Adapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "unsupported payment provider")
	}
	return adapter, nil
}
