package controllers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/api/middleware"
	"github.com/dmtorres-dev/vpnpay-backend/api/responses"
	"github.com/dmtorres-dev/vpnpay-backend/api/validators"
	"github.com/dmtorres-dev/vpnpay-backend/internal/payments"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/auth"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
)

type PaymentsService interface {
	ProcessPayment(ctx context.Context, req payments.Request) (*payments.Result, error)
}

type TransactionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
}

type createPaymentRequest struct {
	PlanID      string          `json:"plan_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	Provider    string          `json:"provider" validate:"required"`
	SourceToken string          `json:"source_token,omitempty"`
	ReturnURL   string          `json:"return_url,omitempty" validate:"omitempty,url"`
}

type paymentResponse struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        string            `json:"status"`
	FraudScore    float64           `json:"fraud_score"`
	Continuation  map[string]string `json:"continuation,omitempty"`
}

type transactionResponse struct {
	TransactionID         uuid.UUID       `json:"transaction_id"`
	PlanID                string          `json:"plan_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Provider              string          `json:"provider"`
	Status                string          `json:"status"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	RefundedAmount        *string         `json:"refunded_amount,omitempty"`
	ActivatedAt           *time.Time      `json:"activated_at,omitempty"`
	ExpiresAt             time.Time       `json:"expires_at"`
	CreatedAt             time.Time       `json:"created_at"`
}

func CreatePayment(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		provider, err := enums.ParsePaymentProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "unknown payment provider"))
			return
		}

		result, err := svc.ProcessPayment(r.Context(), payments.Request{
			UserID:      userID,
			PlanID:      payload.PlanID,
			Amount:      payload.Amount,
			Currency:    payload.Currency,
			Provider:    provider,
			SourceToken: payload.SourceToken,
			ReturnURL:   payload.ReturnURL,
			IPAddress:   clientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, paymentResponse{
			TransactionID: result.TransactionID,
			Status:        result.Status.String(),
			FraudScore:    result.FraudScore,
			Continuation:  result.Continuation,
		})
	}
}

func GetTransaction(reader TransactionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transactions repository unavailable"))
			return
		}

		txnID, err := uuid.Parse(chi.URLParam(r, "transactionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInvalidRequest, "invalid transaction id"))
			return
		}

		txn, err := reader.GetByID(r.Context(), txnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// Users only see their own transactions; operators see all.
		if middleware.RoleFromContext(r.Context()) != auth.RoleOperator &&
			middleware.UserIDFromContext(r.Context()) != txn.UserID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))
			return
		}

		resp := transactionResponse{
			TransactionID:         txn.ID,
			PlanID:                txn.PlanID,
			Amount:                txn.Amount,
			Currency:              txn.Currency,
			Provider:              txn.Provider.String(),
			Status:                txn.Status.String(),
			ProviderTransactionID: txn.ProviderTransactionID,
			FailureReason:         txn.FailureReason,
			ActivatedAt:           txn.ActivatedAt,
			ExpiresAt:             txn.ExpiresAt,
			CreatedAt:             txn.CreatedAt,
		}
		if txn.RefundedAmount != nil {
			s := txn.RefundedAmount.StringFixed(2)
			resp.RefundedAmount = &s
		}
		responses.WriteSuccess(w, resp)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
