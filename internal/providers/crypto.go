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

// CryptoAdapter runs address-based cryptocurrency payments: initiate returns
// a deposit address and QR payload; confirmation arrives via webhook once the
// chain transaction settles.
type CryptoAdapter struct {
	rest          *restClient
	webhookSecret string
}

func NewCryptoAdapter(cfg config.CryptoProviderConfig, opts ...restOption) (*CryptoAdapter, error) {
	rest, err := newRESTClient(cfg.BaseURL, cfg.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "crypto webhook secret is required")
	}
	return &CryptoAdapter{rest: rest, webhookSecret: cfg.WebhookSecret}, nil
}

func (a *CryptoAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderCryptoAddress
}

func (a *CryptoAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := map[string]any{
		"reference": req.TransactionID.String(),
		"amount":    req.Amount.StringFixed(2),
		"currency":  req.Currency,
	}
	var resp struct {
		AddressID      string `json:"address_id"`
		DepositAddress string `json:"deposit_address"`
		QRPayload      string `json:"qr_payload"`
	}
	if err := a.rest.postJSON(ctx, "/v1/addresses", body, &resp); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(resp)
	return &InitiateResult{
		ProviderTransactionID: resp.AddressID,
		Status:                enums.TransactionStatusPending,
		Extra: map[string]string{
			"depositAddress": resp.DepositAddress,
			"qrPayload":      resp.QRPayload,
		},
		Raw: raw,
	}, nil
}

func (a *CryptoAdapter) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySignature(a.webhookSecret, payload, signatureHeader)
}

func (a *CryptoAdapter) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event asyncWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "malformed crypto webhook payload")
	}
	if event.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "crypto webhook missing transaction id")
	}
	return &WebhookEvent{
		EventID:               event.EventID,
		ProviderTransactionID: event.TransactionID,
		NewStatus:             mapAsyncStatus(event.Status),
		Raw:                   payload,
	}, nil
}

func (a *CryptoAdapter) Refund(ctx context.Context, providerTransactionID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	body := map[string]any{
		"address_id": providerTransactionID,
		"amount":     amount.StringFixed(2),
		"currency":   currency,
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
