package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
)

// HostedAdapter runs hosted-charge payments: initiate returns the URL of a
// provider-hosted payment page; confirmation always arrives via webhook.
type HostedAdapter struct {
	rest          *restClient
	webhookSecret string
	returnURL     string
}

func NewHostedAdapter(cfg config.HostedProviderConfig, opts ...restOption) (*HostedAdapter, error) {
	rest, err := newRESTClient(cfg.BaseURL, cfg.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hosted webhook secret is required")
	}
	return &HostedAdapter{
		rest:          rest,
		webhookSecret: cfg.WebhookSecret,
		returnURL:     strings.TrimSpace(cfg.ReturnURL),
	}, nil
}

func (a *HostedAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderHostedCharge
}

func (a *HostedAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = a.returnURL
	}
	body := map[string]any{
		"reference":  req.TransactionID.String(),
		"amount":     req.Amount.StringFixed(2),
		"currency":   req.Currency,
		"return_url": returnURL,
	}
	var resp struct {
		ChargeID  string `json:"charge_id"`
		HostedURL string `json:"hosted_url"`
	}
	if err := a.rest.postJSON(ctx, "/v1/charges", body, &resp); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(resp)
	return &InitiateResult{
		ProviderTransactionID: resp.ChargeID,
		Status:                enums.TransactionStatusPending,
		Extra:                 map[string]string{"hostedUrl": resp.HostedURL},
		Raw:                   raw,
	}, nil
}

func (a *HostedAdapter) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySignature(a.webhookSecret, payload, signatureHeader)
}

func (a *HostedAdapter) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event asyncWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "malformed hosted webhook payload")
	}
	if event.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "hosted webhook missing transaction id")
	}
	return &WebhookEvent{
		EventID:               event.EventID,
		ProviderTransactionID: event.TransactionID,
		NewStatus:             mapAsyncStatus(event.Status),
		Raw:                   payload,
	}, nil
}

func (a *HostedAdapter) Refund(ctx context.Context, providerTransactionID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	body := map[string]any{
		"charge_id": providerTransactionID,
		"amount":    amount.StringFixed(2),
		"currency":  currency,
	}
	var resp struct {
		RefundID string `json:"refund_id"`
	}
	if err := a.rest.postJSON(ctx, "/v1/refunds", body, &resp); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(resp)
	return &RefundResult{ProviderRefundID: resp.RefundID, Raw: raw}, nil
}
