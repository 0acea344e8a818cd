package services

import (
	"context"
	"errors"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/logger"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NativeAssetCode is the asset buyers pay in.
const NativeAssetCode = "XLM"

// ExpiryPolicy supplies the payment window of new orders.
type ExpiryPolicy interface {
	Window() time.Duration
}

type OrderItemRequest struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id" binding:"required"`
	Quantity     int       `json:"quantity"`
}

type CreateOrderRequest struct {
	EventID uuid.UUID          `json:"event_id" binding:"required"`
	Items   []OrderItemRequest `json:"items"`
}

// PaymentInstructions tells the buyer how to pay for a PENDING order.
type PaymentInstructions struct {
	Destination string          `json:"destination"`
	Memo        string          `json:"memo"`
	Amount      decimal.Decimal `json:"amount"`
	AssetCode   string          `json:"asset_code"`
	Network     string          `json:"network"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type CreateOrderResult struct {
	Order   *models.Order       `json:"order"`
	Payment PaymentInstructions `json:"payment"`
}

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// OrderService is the order state machine. It creates PENDING orders with a
// reservation and lets their owner cancel them; the sweeper and the payment
// consumer drive the other transitions.
type OrderService struct {
	store       repository.UnitOfWork
	inventory   *InventoryService
	memos       *MemoGenerator
	expiry      ExpiryPolicy
	destination string
	network     string
	notifier    Notifier
	metrics     Metrics
	tracer      trace.Tracer
	log         *zap.Logger
	now         func() time.Time
}

func NewOrderService(store repository.UnitOfWork, inventory *InventoryService, memos *MemoGenerator,
	expiry ExpiryPolicy, destination, network string, log *zap.Logger) *OrderService {
	return &OrderService{
		store:       store,
		inventory:   inventory,
		memos:       memos,
		expiry:      expiry,
		destination: destination,
		network:     network,
		notifier:    noopNotifier{},
		metrics:     noopMetrics{},
		tracer:      otel.Tracer("orders"),
		log:         log,
		now:         time.Now,
	}
}

func (s *OrderService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *OrderService) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetClock replaces the wall clock; used by tests.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// ComputeExpiresAt returns from plus the current payment window. The window
// is asked for on every call so it can be retuned without a restart.
func (s *OrderService) ComputeExpiresAt(from time.Time) time.Time {
	return from.Add(s.expiry.Window())
}

// GenerateMemo returns the payment memo for orderID.
func (s *OrderService) GenerateMemo(orderID uuid.UUID) string {
	return s.memos.Generate(orderID)
}

func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.create")
	defer span.End()
	log := logger.FromContext(ctx, s.log)

	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	// Pre-flight: resolve every ticket type and check capacity before
	// opening a transaction that could only fail.
	ticketTypes := make(map[uuid.UUID]*models.TicketType, len(req.Items))
	wanted := make(map[uuid.UUID]int, len(req.Items))
	for _, item := range req.Items {
		wanted[item.TicketTypeID] += item.Quantity
		if _, seen := ticketTypes[item.TicketTypeID]; seen {
			continue
		}
		tt, err := s.store.TicketTypes().FindByID(ctx, item.TicketTypeID)
		if err != nil {
			return nil, inventoryError(err, item.TicketTypeID)
		}
		if tt.EventID != req.EventID {
			return nil, apperrors.ErrTicketTypeNotFound.WithDetail("%s for event %s", tt.ID, req.EventID)
		}
		ticketTypes[item.TicketTypeID] = tt
	}
	for id, qty := range wanted {
		if ticketTypes[id].Available() < qty {
			return nil, apperrors.ErrInsufficientInventory.WithDetail("ticket type %s", id)
		}
	}

	now := s.now()
	order := &models.Order{
		ID:         uuid.New(),
		UserID:     userID,
		EventID:    req.EventID,
		Status:     models.OrderStatusPending,
		ExpiresAt:  s.ComputeExpiresAt(now),
		OrderItems: make([]models.OrderItem, 0, len(req.Items)),
	}
	total := decimal.Zero
	for _, item := range req.Items {
		price := ticketTypes[item.TicketTypeID].Price
		subtotal := price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		order.OrderItems = append(order.OrderItems, models.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			TicketTypeID: item.TicketTypeID,
			Quantity:     item.Quantity,
			UnitPrice:    price,
			Subtotal:     subtotal,
		})
		total = total.Add(subtotal)
	}
	order.TotalAmount = total
	order.PaymentMemo = s.GenerateMemo(order.ID)

	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		ledger := s.inventory.WithTx(tx)
		for _, item := range order.OrderItems {
			if _, err := ledger.Reserve(ctx, item.TicketTypeID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order creation failed")
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		log.Error("failed to persist order", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, apperrors.ErrInternal.Wrap(err)
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Int("order.tickets", order.TicketCount()),
	)
	log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", order.TotalAmount.String()),
		zap.Time("expires_at", order.ExpiresAt))
	recordCount(ctx, s.metrics, aws_pkg.MetricOrdersCreated, nil, log)
	recordValue(ctx, s.metrics, aws_pkg.MetricInventoryReserved, float64(order.TicketCount()), nil, log)
	notify(ctx, s.notifier, models.NewOrderEvent(models.OrderEventCreated, order, now), log)

	return &CreateOrderResult{
		Order: order,
		Payment: PaymentInstructions{
			Destination: s.destination,
			Memo:        order.PaymentMemo,
			Amount:      order.TotalAmount,
			AssetCode:   NativeAssetCode,
			Network:     s.network,
			ExpiresAt:   order.ExpiresAt,
		},
	}, nil
}

func validateItems(items []OrderItemRequest) error {
	if len(items) == 0 {
		return apperrors.ErrEmptyOrder
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return apperrors.ErrInvalidQuantity
		}
		if item.TicketTypeID == uuid.Nil {
			return apperrors.ErrInvalidInput.WithDetail("ticket_type_id is required")
		}
	}
	return nil
}

// CancelOrder cancels a PENDING order whose window is still open and gives
// its tickets back to the ledger in the same transaction.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	log := logger.FromContext(ctx, s.log)

	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, orderLookupError(err, orderID)
	}
	now := s.now()
	if order.Status != models.OrderStatusPending || order.IsExpired(now) {
		return nil, apperrors.ErrOrderNotCancellable.WithDetail("order %s is %s", orderID, order.Status)
	}

	var released int
	err = s.store.Transaction(ctx, func(tx repository.Repositories) error {
		n, err := releaseAndResolve(ctx, tx, s.inventory, order, models.OrderStatusCancelled,
			map[string]interface{}{"cancelled_at": now})
		released = n
		return err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderAlreadyResolved) {
			return nil, apperrors.ErrOrderNotCancellable.WithDetail("order %s was resolved concurrently", orderID)
		}
		log.Error("failed to cancel order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.From(err)
	}

	order.Status = models.OrderStatusCancelled
	order.CancelledAt = &now
	log.Info("order cancelled", zap.String("order_id", orderID.String()), zap.Int("tickets_released", released))
	recordCount(ctx, s.metrics, aws_pkg.MetricOrdersCancelled, nil, log)
	recordValue(ctx, s.metrics, aws_pkg.MetricInventoryReleased, float64(released), nil, log)
	notify(ctx, s.notifier, models.NewOrderEvent(models.OrderEventCancelled, order, now), log)
	return order, nil
}

func (s *OrderService) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, orderLookupError(err, orderID)
	}
	return order, nil
}

// FindByUser returns one page of the user's orders, newest first.
func (s *OrderService) FindByUser(ctx context.Context, userID uuid.UUID, page, limit int) (*OrderResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	orders, total, err := s.store.Orders().FindByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, apperrors.ErrInternal.Wrap(err)
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  totalPages,
			HasMore:     int64(page) < totalPages,
		},
	}, nil
}

// Tickets lists the tickets issued for a paid order. Orders that are not
// PAID have none.
func (s *OrderService) Tickets(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	tickets, err := s.store.Tickets().FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperrors.ErrInternal.Wrap(err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// Availability exposes the ledger's read path to the HTTP layer.
func (s *OrderService) Availability(ctx context.Context, ticketTypeID uuid.UUID) (int, error) {
	return s.inventory.Availability(ctx, ticketTypeID)
}

func orderLookupError(err error, orderID uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrOrderNotFound.WithDetail("%s", orderID)
	}
	return apperrors.ErrInternal.Wrap(err)
}
