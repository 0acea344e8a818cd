package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/middleware"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderService is what the HTTP layer needs from services.OrderService.
type OrderService interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, req *services.CreateOrderRequest) (*services.CreateOrderResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByUser(ctx context.Context, userID uuid.UUID, page, limit int) (*services.OrderResponse, error)
	Tickets(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error)
	Availability(ctx context.Context, ticketTypeID uuid.UUID) (int, error)
}

type OrderController struct {
	orderService OrderService
}

func NewOrderController(orderService OrderService) *OrderController {
	return &OrderController{
		orderService: orderService,
	}
}

// CreateOrder reserves the requested tickets and returns payment instructions.
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req services.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}

	result, err := oc.orderService.CreateOrder(ctx.Request.Context(), userID, &req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

// GetOrders returns the caller's orders, newest first.
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	page, limit := parsePaginationParams(ctx)
	result, err := oc.orderService.FindByUser(ctx.Request.Context(), userID, page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	order, ok := oc.ownedOrder(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	order, ok := oc.ownedOrder(ctx)
	if !ok {
		return
	}

	cancelled, err := oc.orderService.CancelOrder(ctx.Request.Context(), order.ID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": cancelled})
}

// GetOrderTickets lists the tickets issued for one of the caller's orders.
func (oc *OrderController) GetOrderTickets(ctx *gin.Context) {
	order, ok := oc.ownedOrder(ctx)
	if !ok {
		return
	}

	tickets, err := oc.orderService.Tickets(ctx.Request.Context(), order.ID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": order.Status, "tickets": tickets})
}

// GetAvailability reports how many tickets of a type are still for sale.
func (oc *OrderController) GetAvailability(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket type ID format"})
		return
	}

	available, err := oc.orderService.Availability(ctx.Request.Context(), id)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ticket_type_id": id, "available": available})
}

// ownedOrder loads the :id order and hides orders of other users behind a 404.
func (oc *OrderController) ownedOrder(ctx *gin.Context) (*models.Order, bool) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	orderID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return nil, false
	}

	order, err := oc.orderService.FindByID(ctx.Request.Context(), orderID)
	if err != nil {
		_ = ctx.Error(err)
		return nil, false
	}
	if order.UserID != userID {
		_ = ctx.Error(apperrors.ErrOrderNotFound.WithDetail("%s", orderID))
		return nil, false
	}
	return order, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const DefaultPage = 1
	const DefaultLimit = 10

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}

	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxLimit {
			limitInt = MaxLimit
		}
	}

	return pageInt, limitInt
}
