package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeremiapane/table-order/controllers"
	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/middlewares"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Sessions *services.SessionService
	Orders   *services.OrderService
	Status   *services.StatusService
	Query    *services.OrderQuery
	Board    *services.BoardService
	Tables   *services.TableService
	Hub      *kds.Hub
	Export   controllers.ExportQueue
	Issuer   *utils.TokenIssuer
	Metrics  *metrics.Metrics

	AdminPinHash string
	CORSOrigins  []string
	RateLimitRPS float64
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(d.CORSOrigins))

	sessionCtrl := controllers.NewSessionController(d.Sessions, d.Hub)
	orderCtrl := controllers.NewOrderController(d.Orders, d.Status, d.Query, d.Export)
	streamCtrl := controllers.NewStreamController(d.Hub, d.Board, d.CORSOrigins)
	tableCtrl := controllers.NewTableController(d.Tables)
	authCtrl := controllers.NewAuthController(d.Issuer, d.AdminPinHash)

	redeemLimiter := middlewares.NewRateLimiter(d.RateLimitRPS, 10)
	sessionAuth := middlewares.SessionAuth(d.Sessions)
	adminAuth := middlewares.AdminAuth(d.Issuer)

	r.GET("/ping", func(c *gin.Context) {
		utils.RespondJSON(c, http.StatusOK, "pong", nil)
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	r.GET("/menu", tableCtrl.GetMenu)

	sessions := r.Group("/sessions")
	{
		sessions.POST("/resolve", redeemLimiter.RateLimit(), sessionCtrl.Resolve)
		sessions.POST("/open-by-slug", redeemLimiter.RateLimit(), sessionCtrl.OpenBySlug)
		sessions.GET("/me", sessionAuth, sessionCtrl.Me)
	}

	orders := r.Group("/orders", sessionAuth)
	{
		orders.POST("", orderCtrl.CreateOrder)
		orders.GET("", orderCtrl.ListMyOrders)
		orders.GET("/:order_id", orderCtrl.GetMyOrder)
	}

	r.POST("/admin/login", redeemLimiter.RateLimit(), authCtrl.Login)

	admin := r.Group("/admin", adminAuth)
	{
		admin.GET("/orders", orderCtrl.ListOrders)
		admin.GET("/orders/stream", streamCtrl.Stream)
		admin.GET("/orders/ws", streamCtrl.WebSocket)
		admin.GET("/orders/:order_id", orderCtrl.GetOrder)
		admin.PATCH("/orders/:order_id/status", orderCtrl.UpdateStatus)

		admin.POST("/sessions/:id/close", sessionCtrl.Close)

		admin.GET("/tables", tableCtrl.ListTables)
		admin.POST("/tables/ensure", tableCtrl.EnsureTable)
		admin.POST("/tables/:id/qr/rotate", tableCtrl.RotateQR)
	}

	return r
}
