package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"rental/internal/config"
	"rental/internal/handler"
	"rental/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler     *handler.TripHandler
	PaymentHandler  *handler.PaymentHandler
	ClaimHandler    *handler.ClaimHandler
	ReferralHandler *handler.ReferralHandler
	CatalogHandler  *handler.CatalogHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
	Auth            config.AuthConfig
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes. Every call carries the caller address issued by the gateway.
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Auth.JWTSecret, deps.Auth.Issuer))
	v1.Use(middleware.NewRelicTransaction())
	if deps.RedisClient != nil {
		v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	}
	{
		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.GET("", deps.TripHandler.ListTrips)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/approve", deps.TripHandler.ApproveTrip)
			trips.POST("/:id/reject", deps.TripHandler.RejectTrip)
			trips.POST("/:id/check-in/host", deps.TripHandler.CheckInByHost)
			trips.POST("/:id/check-in/guest", deps.TripHandler.CheckInByGuest)
			trips.POST("/:id/check-out/guest", deps.TripHandler.CheckOutByGuest)
			trips.POST("/:id/check-out/host", deps.TripHandler.CheckOutByHost)
			trips.POST("/:id/finish", deps.TripHandler.FinishTrip)
			trips.POST("/:id/confirm", deps.TripHandler.ConfirmCheckOut)
			trips.GET("/:id/receipt", deps.TripHandler.GetReceipt)
			trips.GET("/:id/claims", deps.ClaimHandler.ListTripClaims)
		}

		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.POST("/calculate", deps.PaymentHandler.CalculatePayments)
		}

		// Claim routes.
		claims := v1.Group("/claims")
		{
			claims.POST("", deps.ClaimHandler.CreateClaim)
			claims.GET("", deps.ClaimHandler.ListMyClaims)
			claims.GET("/:id", deps.ClaimHandler.GetClaim)
			claims.POST("/:id/reject", deps.ClaimHandler.RejectClaim)
			claims.POST("/:id/pay", deps.ClaimHandler.PayClaim)
		}

		// Referral routes.
		referral := v1.Group("/referral")
		{
			referral.POST("/hash", deps.ReferralHandler.GenerateHash)
			referral.POST("/claim", deps.ReferralHandler.ClaimPoints)
			referral.POST("/claim-referral", deps.ReferralHandler.ClaimReferralPoints)
			referral.POST("/events", deps.ReferralHandler.RecordEvent)
			referral.GET("/ready-to-claim", deps.ReferralHandler.GetReadyToClaim)
			referral.GET("/info", deps.ReferralHandler.GetPointsInfo)
			referral.GET("/discount", deps.ReferralHandler.GetDiscount)

			admin := referral.Group("/admin")
			{
				admin.PUT("/one-time", deps.ReferralHandler.ManageOneTime)
				admin.PUT("/referrer-share", deps.ReferralHandler.ManageReferrerShare)
				admin.PUT("/discount", deps.ReferralHandler.ManageDiscount)
				admin.PUT("/tier", deps.ReferralHandler.ManageTier)
			}
		}

		v1.GET("/cars/nearby", deps.CatalogHandler.SearchCars)

		// Catalog collaborator feeds.
		v1.PUT("/cars", deps.CatalogHandler.ReportCar)
		v1.POST("/roles", deps.CatalogHandler.GrantRole)
	}

	return router
}
