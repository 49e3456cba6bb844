package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/newrelic/go-agent/v3/newrelic"

	"rental/internal/app"
	"rental/internal/config"
	"rental/internal/currency"
	"rental/internal/events"
	"rental/internal/handler"
	"rental/internal/middleware"
	"rental/internal/service"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	// Load configuration.
	cfg := config.Load()
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("failed to load policy: %v", err)
	}
	log.Printf("Loaded policy version %d", policy.Version)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// Initialize database with New Relic instrumentation, migrating when enabled.
	database, err := app.OpenDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to PostgreSQL")

	// Initialize Redis locks, caches and geo index.
	stores, err := app.OpenRedis(ctx, cfg.Redis, cfg.Locks, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer stores.Close()
	log.Println("Connected to Redis")

	publisher := app.NewPublisher(cfg.RabbitMQ)
	defer publisher.Close()

	// Wire dependencies.
	server, automation, err := wireServer(database, stores, publisher, nrApp, cfg, policy)
	if err != nil {
		log.Fatalf("failed to wire server: %v", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if cfg.Automation.Enabled {
		go automation.Run(runCtx)
		log.Printf("Automation enabled: interval=%s grace=%s", cfg.Automation.Interval, cfg.Automation.Grace)
	}

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the trip sweeper.
func wireServer(
	database *app.Database,
	stores *app.RedisStores,
	publisher events.Publisher,
	nrApp *newrelic.Application,
	cfg *config.Config,
	policy *config.Policy,
) (*http.Server, *service.AutomationService, error) {
	store := database.Store
	roleRepo := database.Roles
	lockStore := stores.Locks
	locationStore := stores.Locations
	carCatalog := stores.CarCatalog(database.Cars)

	// Settlement currencies.
	staticRates, err := currency.NewStaticRates(policy.Currencies)
	if err != nil {
		return nil, nil, err
	}
	converter := currency.NewConverter(stores.Rates(staticRates))

	// Initialize services.
	notificationService := service.NewNotificationService(publisher)
	receiptService := service.NewReceiptService(notificationService)
	settlementService := service.NewSettlementService(policy)
	referralService := service.NewReferralService(store, lockStore, roleRepo, policy)
	calculator := service.NewPaymentCalculator(policy.Pricing, carCatalog, locationStore, converter)
	tripService := service.NewTripService(service.TripServiceDeps{
		Store:         store,
		Locker:        lockStore,
		Roles:         roleRepo,
		Cars:          carCatalog,
		Calculator:    calculator,
		Settlement:    settlementService,
		Referral:      referralService,
		Notifications: notificationService,
		Receipts:      receiptService,
		Cache:         stores.Cache,
	})
	claimService := service.NewClaimService(store, lockStore, settlementService, converter, notificationService, stores.Cache, policy.Claims)
	catalogService := service.NewCatalogService(carCatalog, roleRepo, roleRepo, locationStore, store)
	automationService := service.NewAutomationService(store, tripService, claimService, lockStore, cfg.Automation)

	// Initialize handlers.
	if err := handler.RegisterValidators(); err != nil {
		return nil, nil, err
	}
	tripHandler := handler.NewTripHandler(tripService)
	paymentHandler := handler.NewPaymentHandler(calculator, referralService)
	claimHandler := handler.NewClaimHandler(claimService)
	referralHandler := handler.NewReferralHandler(referralService)
	catalogHandler := handler.NewCatalogHandler(catalogService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		TripHandler:     tripHandler,
		PaymentHandler:  paymentHandler,
		ClaimHandler:    claimHandler,
		ReferralHandler: referralHandler,
		CatalogHandler:  catalogHandler,
		RedisClient:     stores.Client,
		NewRelicApp:     nrApp,
		Auth:            cfg.Auth,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.CORS(cfg.Server.AllowedOrigins)(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, automationService, nil
}
