package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/controllers"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrderService struct {
	createErr  error
	cancelErr  error
	orders     map[uuid.UUID]*models.Order
	gotUser    uuid.UUID
	gotReq     *services.CreateOrderRequest
	gotPage    int
	gotLimit   int
	available  int
	cancelledN int
	tickets    map[uuid.UUID][]models.Ticket
	ticketsErr error
}

func (s *stubOrderService) CreateOrder(_ context.Context, userID uuid.UUID, req *services.CreateOrderRequest) (*services.CreateOrderResult, error) {
	s.gotUser = userID
	s.gotReq = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	o := &models.Order{ID: uuid.New(), UserID: userID, Status: models.OrderStatusPending, TotalAmount: decimal.NewFromInt(50)}
	return &services.CreateOrderResult{
		Order:   o,
		Payment: services.PaymentInstructions{Destination: "GPLATFORM", Memo: "abc", Amount: o.TotalAmount, AssetCode: "XLM"},
	}, nil
}

func (s *stubOrderService) CancelOrder(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	s.cancelledN++
	o := *s.orders[orderID]
	o.Status = models.OrderStatusCancelled
	return &o, nil
}

func (s *stubOrderService) FindByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	if o, ok := s.orders[orderID]; ok {
		return o, nil
	}
	return nil, apperrors.ErrOrderNotFound
}

func (s *stubOrderService) FindByUser(_ context.Context, userID uuid.UUID, page, limit int) (*services.OrderResponse, error) {
	s.gotUser, s.gotPage, s.gotLimit = userID, page, limit
	return &services.OrderResponse{Orders: []models.Order{}, Meta: services.MetaData{Page: page, Limit: limit}}, nil
}

func (s *stubOrderService) Tickets(_ context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	if s.ticketsErr != nil {
		return nil, s.ticketsErr
	}
	return s.tickets[orderID], nil
}

func (s *stubOrderService) Availability(_ context.Context, _ uuid.UUID) (int, error) {
	return s.available, nil
}

func setupRouter(svc *stubOrderService, checks map[string]controllers.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	RegisterRoutes(r, controllers.NewOrderController(svc), controllers.NewHealthController("ticket-orders", checks))
	return r
}

func do(r *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateOrder(t *testing.T) {
	user := uuid.New()
	body := map[string]interface{}{
		"event_id": uuid.NewString(),
		"items":    []map[string]interface{}{{"ticket_type_id": uuid.NewString(), "quantity": 2}},
	}

	t.Run("requires a user", func(t *testing.T) {
		w := do(setupRouter(&stubOrderService{}, nil), http.MethodPost, "/orders", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a malformed user id", func(t *testing.T) {
		w := do(setupRouter(&stubOrderService{}, nil), http.MethodPost, "/orders", "not-a-uuid", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("created with payment instructions", func(t *testing.T) {
		svc := &stubOrderService{}
		w := do(setupRouter(svc, nil), http.MethodPost, "/orders", user.String(), body)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, user, svc.gotUser)
		require.Len(t, svc.gotReq.Items, 1)
		assert.Equal(t, 2, svc.gotReq.Items[0].Quantity)

		payment := decode(t, w)["payment"].(map[string]interface{})
		assert.Equal(t, "GPLATFORM", payment["destination"])
		assert.Equal(t, "abc", payment["memo"])
	})

	t.Run("bad json", func(t *testing.T) {
		w := do(setupRouter(&stubOrderService{}, nil), http.MethodPost, "/orders", user.String(), "{")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", decode(t, w)["reason"])
	})

	t.Run("sold out", func(t *testing.T) {
		svc := &stubOrderService{createErr: apperrors.ErrInsufficientInventory.WithDetail("ticket type x")}
		w := do(setupRouter(svc, nil), http.MethodPost, "/orders", user.String(), body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INSUFFICIENT_INVENTORY", decode(t, w)["reason"])
	})

	t.Run("unexpected failure is internal", func(t *testing.T) {
		svc := &stubOrderService{createErr: errors.New("boom")}
		w := do(setupRouter(svc, nil), http.MethodPost, "/orders", user.String(), body)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetOrders_Pagination(t *testing.T) {
	user := uuid.New()
	svc := &stubOrderService{}
	w := do(setupRouter(svc, nil), http.MethodGet, "/orders?page=2&limit=500", user.String(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user, svc.gotUser)
	assert.Equal(t, 2, svc.gotPage)
	assert.Equal(t, 100, svc.gotLimit)
}

func TestGetOrderByID_OwnerOnly(t *testing.T) {
	owner := uuid.New()
	order := &models.Order{ID: uuid.New(), UserID: owner, Status: models.OrderStatusPending}
	svc := &stubOrderService{orders: map[uuid.UUID]*models.Order{order.ID: order}}
	r := setupRouter(svc, nil)

	w := do(r, http.MethodGet, "/orders/"+order.ID.String(), owner.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/orders/"+order.ID.String(), uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/orders/"+uuid.NewString(), owner.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/orders/xyz", owner.String(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelOrder(t *testing.T) {
	owner := uuid.New()
	order := &models.Order{ID: uuid.New(), UserID: owner, Status: models.OrderStatusPending}
	path := "/orders/" + order.ID.String() + "/cancel"

	t.Run("cancelled", func(t *testing.T) {
		svc := &stubOrderService{orders: map[uuid.UUID]*models.Order{order.ID: order}}
		w := do(setupRouter(svc, nil), http.MethodPost, path, owner.String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, svc.cancelledN)
		got := decode(t, w)["order"].(map[string]interface{})
		assert.Equal(t, string(models.OrderStatusCancelled), got["status"])
	})

	t.Run("not cancellable", func(t *testing.T) {
		svc := &stubOrderService{
			orders:    map[uuid.UUID]*models.Order{order.ID: order},
			cancelErr: apperrors.ErrOrderNotCancellable,
		}
		w := do(setupRouter(svc, nil), http.MethodPost, path, owner.String(), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ORDER_NOT_CANCELLABLE", decode(t, w)["reason"])
	})

	t.Run("someone else's order", func(t *testing.T) {
		svc := &stubOrderService{orders: map[uuid.UUID]*models.Order{order.ID: order}}
		w := do(setupRouter(svc, nil), http.MethodPost, path, uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Zero(t, svc.cancelledN)
	})
}

func TestGetOrderTickets(t *testing.T) {
	owner := uuid.New()
	order := &models.Order{ID: uuid.New(), UserID: owner, Status: models.OrderStatusPaid}
	path := "/orders/" + order.ID.String() + "/tickets"
	tickets := []models.Ticket{
		{ID: uuid.New(), OrderID: order.ID, Serial: 1, Code: "code-1"},
		{ID: uuid.New(), OrderID: order.ID, Serial: 2, Code: "code-2"},
	}

	t.Run("owner sees issued tickets", func(t *testing.T) {
		svc := &stubOrderService{
			orders:  map[uuid.UUID]*models.Order{order.ID: order},
			tickets: map[uuid.UUID][]models.Ticket{order.ID: tickets},
		}
		w := do(setupRouter(svc, nil), http.MethodGet, path, owner.String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, order.ID.String(), body["order_id"])
		assert.Equal(t, string(models.OrderStatusPaid), body["status"])
		got := body["tickets"].([]interface{})
		require.Len(t, got, 2)
		assert.Equal(t, "code-1", got[0].(map[string]interface{})["code"])
	})

	t.Run("someone else's order", func(t *testing.T) {
		svc := &stubOrderService{orders: map[uuid.UUID]*models.Order{order.ID: order}}
		w := do(setupRouter(svc, nil), http.MethodGet, path, uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		svc := &stubOrderService{
			orders:     map[uuid.UUID]*models.Order{order.ID: order},
			ticketsErr: apperrors.ErrInternal.Wrap(errors.New("db down")),
		}
		w := do(setupRouter(svc, nil), http.MethodGet, path, owner.String(), nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAvailability(t *testing.T) {
	r := setupRouter(&stubOrderService{available: 42}, nil)

	w := do(r, http.MethodGet, "/ticket-types/"+uuid.NewString()+"/availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), decode(t, w)["available"])

	w = do(r, http.MethodGet, "/ticket-types/nope/availability", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	w := do(setupRouter(&stubOrderService{}, map[string]controllers.Pinger{"postgres": ok}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(setupRouter(&stubOrderService{}, map[string]controllers.Pinger{"postgres": ok, "redis": down}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	deps := decode(t, w)["dependencies"].(map[string]interface{})
	assert.Equal(t, "connection refused", deps["redis"])
}
