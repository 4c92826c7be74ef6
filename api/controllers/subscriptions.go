package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmtorres-dev/vpnpay-backend/api/middleware"
	"github.com/dmtorres-dev/vpnpay-backend/api/responses"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"

	"gorm.io/gorm"
)

type SubscriptionReader interface {
	GetActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.UserSubscription, error)
}

type subscriptionResponse struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	PlanID         string    `json:"plan_id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	Status         string    `json:"status"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	AutoRenew      bool      `json:"auto_renew"`
}

// GetActiveSubscription returns the caller's current ACTIVE subscription, if any.
func GetActiveSubscription(reader SubscriptionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repository unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		sub, err := reader.GetActiveByUser(r.Context(), nil, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponse{
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			TransactionID:  sub.TransactionID,
			Status:         sub.Status.String(),
			StartDate:      sub.StartDate,
			EndDate:        sub.EndDate,
			AutoRenew:      sub.AutoRenew,
		})
	}
}
