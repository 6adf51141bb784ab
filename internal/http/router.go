// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"ridecore/internal/auth"
	"ridecore/internal/http/handlers"
	"ridecore/internal/http/middleware"
	"ridecore/internal/maps"
	"ridecore/internal/metrics"
	"ridecore/internal/modules/discovery"
	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/session"
	"ridecore/internal/modules/verification"
	"ridecore/internal/ws"
)

type RouterDeps struct {
	Pricing      *pricing.Service
	Guest        *guest.Service
	Sessions     *session.Service
	Discovery    *discovery.Service
	Verification *verification.Service
	Hub          *ws.Hub
	Verifier     auth.TokenVerifier
	Labeler      maps.Labeler
	Log          *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.Recovery(deps.Log),
		middleware.Logging(deps.Log),
		middleware.RateLimit(rate.Limit(100), 200),
		middleware.Auth(deps.Verifier),
	)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing)
	guestHandler := handlers.NewGuestHandler(deps.Guest)
	rideHandler := handlers.NewRideHandler(deps.Sessions, deps.Guest, deps.Labeler)
	discoveryHandler := handlers.NewDiscoveryHandler(deps.Discovery, deps.Sessions, deps.Guest)
	verificationHandler := handlers.NewVerificationHandler(deps.Sessions, deps.Guest, deps.Verification)
	wsHandler := handlers.NewWSHandler(deps.Hub, deps.Sessions, deps.Log)

	api := r.Group("/api")
	{
		api.POST("/fare/quote", pricingHandler.Quote)

		api.POST("/guest/tokens", guestHandler.Issue)
		api.POST("/guest/tokens/validate", guestHandler.Validate)
		api.POST("/guest/tokens/migrate", middleware.RequireUser(), guestHandler.Migrate)

		rides := api.Group("/rides")
		{
			rides.POST("", rideHandler.Create)
			rides.GET("/:id", rideHandler.Get)
			rides.GET("/:id/events", rideHandler.Events)
			rides.POST("/:id/cancel", rideHandler.Cancel)

			rides.POST("/:id/discovery", discoveryHandler.Start)
			rides.GET("/:id/offers", discoveryHandler.ListOffers)
			rides.POST("/:id/offers", middleware.RequireDriver(), discoveryHandler.SubmitOffer)
			rides.POST("/:id/select", discoveryHandler.Select)

			rides.POST("/:id/verification", verificationHandler.Issue)
			rides.POST("/:id/verification/manual", middleware.RequireDriver(), verificationHandler.VerifyManual)

			rides.POST("/:id/start", middleware.RequireDriver(), rideHandler.Start)
			rides.POST("/:id/complete", middleware.RequireDriver(), rideHandler.Complete)
		}

		api.POST("/verification/verify", middleware.RequireDriver(), verificationHandler.Verify)

		api.PUT("/drivers/location", middleware.RequireDriver(), discoveryHandler.UpdateDriverLocation)
		api.DELETE("/drivers/location", middleware.RequireDriver(), discoveryHandler.RemoveDriver)
		api.POST("/favorites", middleware.RequireUser(), discoveryHandler.AddFavorite)
	}

	r.GET("/ws/rides/:id", wsHandler.RideStream)
	r.GET("/ws/drivers", middleware.RequireDriver(), wsHandler.DriverStream)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return r
}
