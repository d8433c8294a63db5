package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"live-auction/internal/auth"
	"live-auction/services/bidding/handler"
	"live-auction/services/bidding/socket"
)

// Deps are the collaborators the router exposes over HTTP
type Deps struct {
	Service        handler.BiddingServiceInterface
	Rooms          handler.Broadcaster
	Verifier       auth.Verifier
	Socket         *socket.Server
	AllowedOrigins []string
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	biddingHandler := handler.NewBiddingHandler(deps.Service, deps.Rooms)

	router.GET("/health", biddingHandler.HealthHandler)

	// the socket authenticates itself so it can answer with auth_error
	router.GET("/ws", func(c *gin.Context) {
		deps.Socket.Handle(c.Writer, c.Request, c.ClientIP())
	})

	auctions := router.Group("/auctions", IdentityMiddleware(deps.Verifier))
	{
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidHistoryHandler)
		auctions.POST("/:auction_id/bids", RequireIdentity, biddingHandler.PlaceBidHandler)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        1 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
