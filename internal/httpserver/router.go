package httpserver

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ordermod-billing/internal/telemetry"
)

// buildRouter wires routes for the API.
func buildRouter(logger *log.Logger, db *pgxpool.Pool, svc lifecycleService, metrics *telemetry.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	h := &handlers{svc: svc, metrics: metrics}
	requests := router.Group("/change-requests")
	{
		requests.POST("", h.open)
		requests.GET("", h.list)
		requests.GET("/stats", h.stats)
		requests.GET("/:id", h.get)
		requests.POST("/:id/send-invoice", h.sendInvoice)
		requests.POST("/:id/resend", h.resend)
		requests.GET("/:id/payment-status", h.checkPayment)
		requests.POST("/:id/mark-paid", h.markPaid)
		requests.POST("/:id/cancel", h.cancel)
		requests.POST("/:id/apply", h.apply)
	}

	return router
}
