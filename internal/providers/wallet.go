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

// WalletAdapter runs wallet-approval payments: initiate returns an approval
// URL the user must visit; confirmation always arrives via webhook.
type WalletAdapter struct {
	rest          *restClient
	webhookSecret string
}

func NewWalletAdapter(cfg config.WalletProviderConfig, opts ...restOption) (*WalletAdapter, error) {
	rest, err := newRESTClient(cfg.BaseURL, cfg.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet webhook secret is required")
	}
	return &WalletAdapter{rest: rest, webhookSecret: cfg.WebhookSecret}, nil
}

func (a *WalletAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderWalletApproval
}

func (a *WalletAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := map[string]any{
		"reference": req.TransactionID.String(),
		"amount":    req.Amount.StringFixed(2),
		"currency":  req.Currency,
	}
	var resp struct {
		ApprovalID  string `json:"approval_id"`
		ApprovalURL string `json:"approval_url"`
	}
	if err := a.rest.postJSON(ctx, "/v1/approvals", body, &resp); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(resp)
	return &InitiateResult{
		ProviderTransactionID: resp.ApprovalID,
		Status:                enums.TransactionStatusPending,
		Extra:                 map[string]string{"approvalUrl": resp.ApprovalURL},
		Raw:                   raw,
	}, nil
}

func (a *WalletAdapter) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySignature(a.webhookSecret, payload, signatureHeader)
}

func (a *WalletAdapter) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event asyncWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "malformed wallet webhook payload")
	}
	if event.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "wallet webhook missing transaction id")
	}
	return &WebhookEvent{
		EventID:               event.EventID,
		ProviderTransactionID: event.TransactionID,
		NewStatus:             mapAsyncStatus(event.Status),
		Raw:                   payload,
	}, nil
}

func (a *WalletAdapter) Refund(ctx context.Context, providerTransactionID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	body := map[string]any{
		"transaction_id": providerTransactionID,
		"amount":         amount.StringFixed(2),
		"currency":       currency,
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
