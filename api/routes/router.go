package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Params collects everything the HTTP surface is wired against.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Tokens      *pkgAuth.Keys
	Readiness   map[string]controllers.Pinger
	Idempotency middleware.ResponseStore
	Orders      ordercontrollers.OrderService
	AdminOrders ordercontrollers.AdminService
	Receipts    ordercontrollers.ReceiptService
	Inventory   controllers.InventoryAdjuster
	Payments    webhookcontrollers.PaymentWebhookProcessor
	Metrics     http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	// signature verification replaces bearer auth here
	r.Post("/api/v1/payments/webhook", webhookcontrollers.PaymentWebhook(p.Payments, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(p.Tokens, logg))
		r.Use(middleware.Idempotency(p.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.Post("/confirm-payment", ordercontrollers.ConfirmPayment(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.Get("/{orderId}/receipt", ordercontrollers.Receipt(p.Receipts, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(p.Tokens, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Use(middleware.Idempotency(p.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(p.AdminOrders, logg))
			r.Get("/stats", ordercontrollers.AdminStats(p.AdminOrders, logg))
			r.Get("/{orderId}/ledger", ordercontrollers.AdminLedger(p.AdminOrders, logg))
			r.Put("/{orderId}/status", ordercontrollers.AdminUpdateStatus(p.AdminOrders, logg))
			r.Delete("/{orderId}", ordercontrollers.AdminDelete(p.AdminOrders, logg))
		})
		r.Post("/inventory/{productId}/adjust", controllers.AdminAdjustInventory(p.Inventory, logg))
	})

	return r
}
