package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmtorres-dev/vpnpay-backend/api/controllers"
	webhookcontrollers "github.com/dmtorres-dev/vpnpay-backend/api/controllers/webhooks"
	"github.com/dmtorres-dev/vpnpay-backend/api/middleware"
	pkgauth "github.com/dmtorres-dev/vpnpay-backend/pkg/auth"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	paymentsService controllers.PaymentsService,
	transactionReader controllers.TransactionReader,
	subscriptionReader controllers.SubscriptionReader,
	refundsService controllers.RefundsService,
	webhookService webhookcontrollers.WebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate with HMAC signatures, not bearer tokens.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{provider}", webhookcontrollers.ProviderWebhook(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.CreatePayment(paymentsService, logg))
			r.Get("/{transactionId}", controllers.GetTransaction(transactionReader, logg))
		})
		r.Get("/subscription", controllers.GetActiveSubscription(subscriptionReader, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(pkgauth.RoleOperator, logg))

		r.Post("/refunds", controllers.CreateRefund(refundsService, logg))
	})

	return r
}
