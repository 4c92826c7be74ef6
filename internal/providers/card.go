package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
)

var squareBaseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// CardAdapter charges card payments through Square. The card rail is the only
// one that may return a terminal status synchronously.
type CardAdapter struct {
	sdk           *sqclient.Client
	locationID    string
	webhookSecret string
	logger        *logger.Logger
}

func NewCardAdapter(cfg config.SquareConfig, logg *logger.Logger) (*CardAdapter, error) {
	env := cfg.Environment()
	baseURL, ok := squareBaseURLs[env]
	if !ok {
		return nil, errInvalidSquareEnv
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)

	return &CardAdapter{
		sdk:           sdk,
		locationID:    strings.TrimSpace(cfg.LocationID),
		webhookSecret: webhookSecret,
		logger:        logg,
	}, nil
}

func (a *CardAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderCard
}

func (a *CardAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if strings.TrimSpace(req.SourceToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "card source token is required")
	}

	cents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(req.Currency)))
	referenceID := req.TransactionID.String()

	sqReq := &sq.CreatePaymentRequest{
		// The transaction id is the idempotency key so a retried initiate can
		// never double-charge.
		IdempotencyKey: req.TransactionID.String(),
		SourceID:       req.SourceToken,
		ReferenceID:    &referenceID,
		AmountMoney: &sq.Money{
			Amount:   &cents,
			Currency: &currency,
		},
	}
	if a.locationID != "" {
		sqReq.LocationID = &a.locationID
	}

	resp, err := a.sdk.Payments.Create(ctx, sqReq)
	if err != nil {
		return nil, a.mapSquareError(err, "create payment")
	}

	payment := resp.GetPayment()
	raw, _ := json.Marshal(payment)
	result := &InitiateResult{
		ProviderTransactionID: stringValue(payment.GetID()),
		Status:                mapSquarePaymentStatus(stringValue(payment.GetStatus())),
		Raw:                   raw,
	}
	if a.logger != nil {
		logCtx := a.logger.WithFields(ctx, map[string]any{
			"provider":   a.Provider(),
			"payment_id": result.ProviderTransactionID,
			"status":     result.Status,
		})
		a.logger.Info(logCtx, "square payment created")
	}
	return result, nil
}

func (a *CardAdapter) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return verifySignature(a.webhookSecret, payload, signatureHeader)
}

func (a *CardAdapter) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Data    struct {
			Object struct {
				Payment struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"payment"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "malformed card webhook payload")
	}
	if event.Data.Object.Payment.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "card webhook missing payment id")
	}
	return &WebhookEvent{
		EventID:               event.EventID,
		ProviderTransactionID: event.Data.Object.Payment.ID,
		NewStatus:             mapSquarePaymentStatus(event.Data.Object.Payment.Status),
		Raw:                   payload,
	}, nil
}

func (a *CardAdapter) Refund(ctx context.Context, providerTransactionID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	if strings.TrimSpace(providerTransactionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "provider transaction id is required")
	}

	cents := amount.Mul(decimal.NewFromInt(100)).IntPart()
	sqCurrency := sq.Currency(strings.ToUpper(strings.TrimSpace(currency)))
	paymentID := providerTransactionID

	resp, err := a.sdk.Refunds.RefundPayment(ctx, &sq.RefundPaymentRequest{
		IdempotencyKey: fmt.Sprintf("refund-%s", providerTransactionID),
		PaymentID:      &paymentID,
		AmountMoney: &sq.Money{
			Amount:   &cents,
			Currency: &sqCurrency,
		},
	})
	if err != nil {
		return nil, a.mapSquareError(err, "refund payment")
	}

	refund := resp.GetRefund()
	raw, _ := json.Marshal(refund)
	return &RefundResult{
		ProviderRefundID: refund.GetID(),
		Raw:              raw,
	}, nil
}

// mapSquarePaymentStatus translates Square payment statuses into engine states.
func mapSquarePaymentStatus(status string) enums.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED", "APPROVED":
		return enums.TransactionStatusCompleted
	case "FAILED", "CANCELED":
		return enums.TransactionStatusFailed
	case "PENDING":
		return enums.TransactionStatusProcessing
	default:
		return enums.TransactionStatusPending
	}
}

func (a *CardAdapter) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Category == sq.ErrorCategoryPaymentMethodError {
				code = pkgerrors.CodeProviderRejected
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	// Transport-level failure: the call may never have reached Square.
	return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, fmt.Sprintf("square %s failed", op))
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.CodeProviderRejected
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return pkgerrors.CodeProviderUnavailable
	default:
		return pkgerrors.CodeDependency
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
