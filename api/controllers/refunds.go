package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/api/responses"
	"github.com/dmtorres-dev/vpnpay-backend/api/validators"
	"github.com/dmtorres-dev/vpnpay-backend/internal/refunds"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
)

type RefundsService interface {
	Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal) (*refunds.Result, error)
}

type refundRequest struct {
	TransactionID uuid.UUID        `json:"transaction_id" validate:"required"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

type refundResponse struct {
	TransactionID    uuid.UUID       `json:"transaction_id"`
	Amount           decimal.Decimal `json:"amount"`
	Full             bool            `json:"full"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
}

// CreateRefund reverses a completed transaction. Omitting the amount refunds in full.
func CreateRefund(svc RefundsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), payload.TransactionID, payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, refundResponse{
			TransactionID:    result.TransactionID,
			Amount:           result.Amount,
			Full:             result.Full,
			ProviderRefundID: result.ProviderRefundID,
		})
	}
}
