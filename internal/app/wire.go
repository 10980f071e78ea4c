package app

import (
	"log/slog"
	"net/http"

	"github.com/biddersweet/platform/internal/auction"
	"github.com/biddersweet/platform/internal/auth"
	"github.com/biddersweet/platform/internal/guard"
	"github.com/biddersweet/platform/internal/handler"
	adminhandler "github.com/biddersweet/platform/internal/handler/admin"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/projection"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/biddersweet/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	Logger *slog.Logger
	Config *infra.Config

	// Redis is optional. Without it balances are cached in process and
	// auction events reach only this instance's watchers.
	Redis *redis.Client

	// Gateway overrides the Stripe gateway built from Config.
	Gateway service.PaymentGateway

	// Registry receives the Prometheus collectors; nil disables /metrics.
	Registry *prometheus.Registry
}

// App is the assembled API: the router plus the long-running pieces the
// process must start and stop.
type App struct {
	Router      chi.Router
	Hub         *infra.Hub
	Broadcaster *infra.Broadcaster
	Auctions    *auction.Engine
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	return Build(deps).Router
}

// Build wires repositories, engines, services and handlers.
func Build(deps RouterDeps) *App {
	pool := deps.Pool
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *infra.Metrics
	if deps.Registry != nil {
		metrics = infra.NewMetrics(deps.Registry)
	}

	// Repositories
	userRepo := repository.NewUserRepository()
	creditRepo := repository.NewCreditTransactionRepository()
	moneyRepo := repository.NewMoneyEventRepository()
	outboxRepo := repository.NewOutboxRepository()
	purchaseRepo := repository.NewPurchaseRepository()
	bidPackRepo := repository.NewBidPackRepository()
	eventRepo := repository.NewStripeEventRepository()
	auctionRepo := repository.NewAuctionRepository()
	bidRepo := repository.NewBidRepository()

	// Balance projection and live fan-out
	var store projection.Store = projection.NewInMemoryStore()
	if deps.Redis != nil {
		store = projection.NewRedisStore(deps.Redis, cfg.RedisPrefix)
	}
	balances := projection.NewBalances(store)
	hub := infra.NewHub(logger)
	broadcaster := infra.NewBroadcaster(hub, deps.Redis, cfg.BroadcastChannel, logger)

	// Engines
	ledgerEngine := ledger.NewEngine(userRepo, creditRepo, moneyRepo, outboxRepo, metrics, logger)
	auctionEngine := auction.NewEngine(auction.Deps{
		DB:        pool,
		Ledger:    ledgerEngine,
		Auctions:  auctionRepo,
		Bids:      bidRepo,
		Money:     moneyRepo,
		Outbox:    outboxRepo,
		Publisher: broadcaster,
		Balances:  balances,
		Metrics:   metrics,
		Logger:    logger,
	}, auction.Config{
		BidIncrement:     cfg.BidIncrementCents,
		BidCost:          cfg.BidCostCredits,
		CreditValueCents: cfg.CreditValueCents,
		Currency:         cfg.Currency,
		ExtensionWindow:  cfg.ExtensionWindow,
		MaxAttempts:      cfg.TxAttempts,
		LockTimeout:      cfg.LockTimeout,
		CloseBatchSize:   100,
	})

	// External providers
	gateway := deps.Gateway
	if gateway == nil {
		gateway = provider.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	}

	// Services
	svcDeps := service.Deps{
		DB:          pool,
		Ledger:      ledgerEngine,
		Users:       userRepo,
		Credits:     creditRepo,
		Purchases:   purchaseRepo,
		BidPacks:    bidPackRepo,
		Money:       moneyRepo,
		Outbox:      outboxRepo,
		Events:      eventRepo,
		Gateway:     gateway,
		Breaker:     guard.NewCircuitBreaker(cfg.StripeBreakerFails, cfg.StripeBreakerReset),
		Balances:    balances,
		Metrics:     metrics,
		Logger:      logger,
		MaxAttempts: cfg.TxAttempts,
		LockTimeout: cfg.LockTimeout,
	}
	purchaseSvc := service.NewPurchaseService(svcDeps)
	refundSvc := service.NewRefundService(svcDeps)
	checkoutSvc := service.NewCheckoutService(svcDeps, purchaseSvc, service.CheckoutURLs{
		Success: cfg.StripeSuccessURL,
		Cancel:  cfg.StripeCancelURL,
	})
	webhookSvc := service.NewWebhookService(svcDeps, purchaseSvc, refundSvc)
	creditSvc := service.NewCreditService(svcDeps, balances, cfg.CreditValueCents, cfg.Currency)

	// Bid rate limiting, shared across instances when Redis is configured
	var bidLimiter guard.Limiter = guard.NewRateLimiter(cfg.BidRateLimit, cfg.BidRateWindow)
	if deps.Redis != nil {
		bidLimiter = guard.NewRedisRateLimiter(deps.Redis, cfg.RedisPrefix+":rl", cfg.BidRateLimit, cfg.BidRateWindow, bidLimiter, logger)
	}

	// Handlers
	storefront := cfg.DefaultStorefront
	webhookHandler := handler.NewWebhookHandler(webhookSvc, logger)
	checkoutHandler := handler.NewCheckoutHandler(checkoutSvc, storefront)
	creditsHandler := handler.NewCreditsHandler(creditSvc)
	bidHandler := handler.NewBidHandler(auctionEngine, bidLimiter, storefront)
	eventsHandler := handler.NewAuctionEventsHandler(hub, logger)
	auctionHandler := handler.NewAuctionHandler(auctionEngine)

	// Admin handlers
	refundAdmin := adminhandler.NewRefundAdminHandler(refundSvc, storefront)
	creditAdmin := adminhandler.NewCreditAdminHandler(creditSvc, storefront)
	auctionAdmin := adminhandler.NewAuctionAdminHandler(auctionEngine, storefront)

	var redisPinger infra.Pinger
	if deps.Redis != nil {
		redisPinger = infra.RedisPinger{Client: deps.Redis}
	}

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger, metrics))
	r.Use(handler.MaxBytes(cfg.MaxBodyBytes))

	// Health and metrics (no auth)
	r.Get("/health", handler.HealthHandler(pool, redisPinger))
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Webhooks (no auth, raw body required for signature verification)
	r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// Public catalog and auction reads
	r.Get("/bid-packs", checkoutHandler.ListBidPacks)
	r.Get("/auctions/{id}/bids", auctionHandler.ListBids)

	// Live auction events (no auth, streamed)
	r.Get("/auctions/{id}/events", eventsHandler.Stream)

	// User-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(auth.AuthenticateUser(deps.JWTMgr))

		r.Get("/credits/balance", creditsHandler.GetBalance)
		r.Post("/checkout", checkoutHandler.CreateCheckout)
		r.Post("/checkout/success", checkoutHandler.HandleSuccess)
		r.Get("/purchases/status", checkoutHandler.PollStatus)
		r.Post("/auctions/{id}/bids", bidHandler.PlaceBid)
	})

	// Admin-authenticated routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(auth.AuthenticateAdmin(deps.JWTMgr))

		r.Get("/users/{id}/credits/audit", creditAdmin.Audit)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))

			r.Post("/purchases/{id}/refund", refundAdmin.IssueRefund)
			r.Post("/users/{id}/credits", creditAdmin.Adjust)
			r.Post("/auctions/close-expired", auctionAdmin.CloseExpired)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handler.RespondJSON(w, http.StatusNotFound, map[string]string{
			"code":    "NOT_FOUND",
			"message": "route not found",
		})
	})

	return &App{
		Router:      r,
		Hub:         hub,
		Broadcaster: broadcaster,
		Auctions:    auctionEngine,
	}
}
