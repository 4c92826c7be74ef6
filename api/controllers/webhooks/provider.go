package webhooks

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmtorres-dev/vpnpay-backend/api/responses"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
)

// SignatureHeader carries the provider's HMAC over the raw payload.
const SignatureHeader = "X-Webhook-Signature"

type WebhookService interface {
	HandleWebhook(ctx context.Context, provider enums.PaymentProvider, rawPayload []byte, signatureHeader, remoteIP string) error
}

// ProviderWebhook handles async settlement callbacks for any payment rail.
// Orphan and duplicate deliveries are acknowledged so providers stop retrying.
func ProviderWebhook(svc WebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		provider, err := enums.ParsePaymentProvider(chi.URLParam(r, "provider"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown provider"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if err := svc.HandleWebhook(ctx, provider, payload, r.Header.Get(SignatureHeader), remoteIP(r)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
