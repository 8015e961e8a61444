package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-settlement/api/controllers"
	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payouts"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/unlock"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
)

// Params carries everything the HTTP surface is wired to. Gatherer defaults
// to the global prometheus registry.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Metrics     *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Idempotency redis.IdempotencyStore
	Readiness   map[string]controllers.Pinger

	Ledger     ledger.Store
	Orders     orders.Service
	Settlement settlement.Service
	Unlock     unlock.Service
	Payouts    payouts.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.Metrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		// Inline so the full route pattern is known when the key is scoped.
		idempotent := middleware.Idempotency(p.Idempotency, logg)

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleOps))
				r.Get("/", controllers.OrderDetail(p.Orders, logg))
				r.With(idempotent).Post("/status", controllers.OrderSetStatus(p.Orders, logg))
				r.With(idempotent).Post("/confirm-cod", controllers.OrderConfirmCOD(p.Orders, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
				r.Post("/wallet-sync", controllers.OrderWalletSync(p.Settlement, logg))
				r.With(idempotent).Post("/sub-orders/{subOrderId}/return", controllers.SubOrderReturn(p.Settlement, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Post("/wallets/unlock", controllers.WalletUnlock(p.Unlock, logg))
			r.Route("/vendors/{vendorId}", func(r chi.Router) {
				r.Get("/wallet", controllers.VendorWallet(p.Ledger, logg))
				r.Post("/payouts", controllers.VendorPayoutRelease(p.Payouts, logg))
				r.Post("/payouts/failed", controllers.VendorPayoutFailed(p.Payouts, logg))
				r.Post("/adjustments", controllers.VendorAdjustment(p.Payouts, logg))
			})
		})
	})

	return r
}
