package api

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/account"
	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/internal/database"
	"github.com/ksred/klear-paper/internal/funding"
	"github.com/ksred/klear-paper/internal/history"
	"github.com/ksred/klear-paper/internal/trading"
	"github.com/ksred/klear-paper/pkg/middleware"
)

// Dependencies are the services the HTTP surface exposes. Snapshots is
// optional; without it the snapshot route is not registered.
type Dependencies struct {
	Auth        *auth.Service
	Account     *account.Service
	Snapshots   *database.Database
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the gin engine with all /api/v1 routes
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes configures all API endpoints and their handlers:
//   - auth routes are public
//   - order, account and history routes require a JWT
//   - funding needs the fund permission, price pushes and resets need admin
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	authHandlers := auth.NewGinHandlers(deps.Auth)
	tradingHandlers := trading.NewGinHandlers(deps.Account)
	fundingHandlers := funding.NewGinHandlers(deps.Account)
	historyHandlers := history.NewGinHandlers(deps.Account)
	accountHandlers := account.NewGinHandlers(deps.Account)

	v1 := router.Group("/api/v1")
	{
		// no token yet, so auth requests are limited per IP
		authGroup := v1.Group("/auth")
		if deps.RateLimiter != nil {
			authGroup.Use(deps.RateLimiter.Middleware())
		}
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// limited per client id from the token
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(deps.Auth))
		if deps.RateLimiter != nil {
			protected.Use(deps.RateLimiter.Middleware())
		}

		orders := protected.Group("/orders")
		orders.Use(middleware.RequirePermission(auth.PermissionTrade))
		{
			orders.POST("", tradingHandlers.ExecuteOrderHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
		}

		protected.GET("/account", accountHandlers.GetAccountHandler())
		protected.GET("/history", historyHandlers.GetHistoryHandler())

		funds := protected.Group("")
		funds.Use(middleware.RequirePermission(auth.PermissionFund))
		{
			funds.POST("/deposits", fundingHandlers.DepositHandler())
			funds.POST("/withdrawals", fundingHandlers.WithdrawHandler())
		}

		admin := protected.Group("")
		admin.Use(middleware.RequirePermission(auth.PermissionAdmin))
		{
			admin.POST("/prices", accountHandlers.PushPricesHandler())
			admin.POST("/account/reset", accountHandlers.ResetAccountHandler())
		}

		if deps.Snapshots != nil {
			snapshotHandlers := database.NewGinHandlers(deps.Snapshots)
			protected.GET("/snapshots", snapshotHandlers.ListSnapshotsHandler())
			protected.GET("/snapshots/latest", snapshotHandlers.LatestSnapshotHandler())
		}
	}
}
