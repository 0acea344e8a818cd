package routes

import (
	"github.com/Lead-Studios/veritix-backend-sub005/controllers"
	"github.com/Lead-Studios/veritix-backend-sub005/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, orders *controllers.OrderController, health *controllers.HealthController) {
	r.GET("/healthz", health.Check)

	r.GET("/ticket-types/:id/availability", orders.GetAvailability)

	orderRoutes := r.Group("/orders")
	orderRoutes.Use(middleware.AuthMiddleware())
	orderRoutes.POST("", orders.CreateOrder)
	orderRoutes.GET("", orders.GetOrders)
	orderRoutes.GET("/:id", orders.GetOrderByID)
	orderRoutes.GET("/:id/tickets", orders.GetOrderTickets)
	orderRoutes.POST("/:id/cancel", orders.CancelOrder)
}
