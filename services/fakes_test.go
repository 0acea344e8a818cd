package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixedWindow time.Duration

func (w fixedWindow) Window() time.Duration { return time.Duration(w) }

// fakeState is an in-memory copy of the tables the services touch.
type fakeState struct {
	ticketTypes map[uuid.UUID]models.TicketType
	orders      map[uuid.UUID]models.Order
	tickets     []models.Ticket
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		ticketTypes: make(map[uuid.UUID]models.TicketType, len(s.ticketTypes)),
		orders:      make(map[uuid.UUID]models.Order, len(s.orders)),
		tickets:     append([]models.Ticket(nil), s.tickets...),
	}
	for k, v := range s.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

func copyOrder(o models.Order) models.Order {
	o.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	return o
}

// fakeDB is a serializable store: transactions run one at a time against
// a copy of the state and commit only when fn succeeds.
type fakeDB struct {
	mu         sync.Mutex
	state      *fakeState
	releaseErr map[uuid.UUID]error
	reserveErr map[uuid.UUID]error
	issueErr   error
	commits    int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		state: &fakeState{
			ticketTypes: map[uuid.UUID]models.TicketType{},
			orders:      map[uuid.UUID]models.Order{},
		},
		releaseErr: map[uuid.UUID]error{},
		reserveErr: map[uuid.UUID]error{},
	}
}

func (db *fakeDB) store() *fakeRepos {
	return &fakeRepos{db: db}
}

func (db *fakeDB) addTicketType(eventID uuid.UUID, price string, total, sold int) models.TicketType {
	tt := models.TicketType{
		ID:            uuid.New(),
		EventID:       eventID,
		Name:          "GA",
		Price:         decimal.RequireFromString(price),
		TotalQuantity: total,
		SoldQuantity:  sold,
	}
	db.mu.Lock()
	db.state.ticketTypes[tt.ID] = tt
	db.mu.Unlock()
	return tt
}

// addPendingOrder stores a PENDING order holding a reservation for items.
// The caller is responsible for having counted the items as sold.
func (db *fakeDB) addPendingOrder(total string, expiresAt time.Time, items ...models.OrderItem) models.Order {
	o := models.Order{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		Status:      models.OrderStatusPending,
		ExpiresAt:   expiresAt,
		TotalAmount: decimal.RequireFromString(total),
		CreatedAt:   testNow.Add(-time.Hour),
	}
	o.PaymentMemo = o.ID.String()[:MaxMemoLength]
	for _, it := range items {
		it.ID = uuid.New()
		it.OrderID = o.ID
		o.OrderItems = append(o.OrderItems, it)
	}
	db.mu.Lock()
	db.state.orders[o.ID] = o
	db.mu.Unlock()
	return o
}

func (db *fakeDB) ticketType(id uuid.UUID) models.TicketType {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.ticketTypes[id]
}

func (db *fakeDB) order(id uuid.UUID) models.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return copyOrder(db.state.orders[id])
}

func (db *fakeDB) orderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.state.orders)
}

func (db *fakeDB) ticketsFor(orderID uuid.UUID) []models.Ticket {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Ticket
	for _, t := range db.state.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

// fakeRepos implements repository.UnitOfWork. Outside a transaction every
// call locks the db; inside one, st is the transaction's private copy.
type fakeRepos struct {
	db *fakeDB
	st *fakeState
}

func (r *fakeRepos) Orders() repository.OrderRepository {
	return fakeOrders{r}
}

func (r *fakeRepos) TicketTypes() repository.InventoryRepository {
	return fakeTicketTypes{r}
}

func (r *fakeRepos) Tickets() repository.TicketRepository {
	return fakeTickets{r}
}

func (r *fakeRepos) Transaction(_ context.Context, fn func(tx repository.Repositories) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	working := r.db.state.clone()
	if err := fn(&fakeRepos{db: r.db, st: working}); err != nil {
		return err
	}
	r.db.state = working
	r.db.commits++
	return nil
}

// with runs fn against the right state, holding the lock when needed.
func (r *fakeRepos) with(fn func(st *fakeState)) {
	if r.st != nil {
		fn(r.st)
		return
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fn(r.db.state)
}

type fakeOrders struct{ r *fakeRepos }

func (f fakeOrders) Create(_ context.Context, o *models.Order) error {
	var err error
	f.r.with(func(st *fakeState) {
		for _, existing := range st.orders {
			if existing.PaymentMemo == o.PaymentMemo {
				err = repository.ErrDuplicate
				return
			}
		}
		st.orders[o.ID] = copyOrder(*o)
	})
	return err
}

func (f fakeOrders) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	f.r.with(func(st *fakeState) {
		if o, ok := st.orders[id]; ok {
			c := copyOrder(o)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (f fakeOrders) FindByUserID(_ context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	var all []models.Order
	f.r.with(func(st *fakeState) {
		for _, o := range st.orders {
			if o.UserID == userID {
				all = append(all, copyOrder(o))
			}
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (f fakeOrders) FindByMemo(_ context.Context, memo string) (*models.Order, error) {
	var out *models.Order
	f.r.with(func(st *fakeState) {
		for _, o := range st.orders {
			if o.PaymentMemo == memo {
				c := copyOrder(o)
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (f fakeOrders) ExistsByTxHash(_ context.Context, txHash string) (bool, error) {
	found := false
	f.r.with(func(st *fakeState) {
		for _, o := range st.orders {
			if o.PaymentTxHash != nil && *o.PaymentTxHash == txHash {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (f fakeOrders) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	f.r.with(func(st *fakeState) {
		for _, o := range st.orders {
			if o.Status == models.OrderStatusPending && o.ExpiresAt.Before(now) {
				out = append(out, copyOrder(o))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeOrders) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.OrderStatus, fields map[string]interface{}) (bool, error) {
	won := false
	var err error
	f.r.with(func(st *fakeState) {
		o, ok := st.orders[id]
		if !ok || o.Status != from {
			return
		}
		if h, ok := fields["payment_tx_hash"].(string); ok {
			for oid, other := range st.orders {
				if oid != id && other.PaymentTxHash != nil && *other.PaymentTxHash == h {
					err = repository.ErrDuplicate
					return
				}
			}
			o.PaymentTxHash = &h
		}
		for k, v := range fields {
			switch k {
			case "paid_at":
				t := v.(time.Time)
				o.PaidAt = &t
			case "cancelled_at":
				t := v.(time.Time)
				o.CancelledAt = &t
			case "failed_at":
				t := v.(time.Time)
				o.FailedAt = &t
			case "failure_reason":
				s := v.(string)
				o.FailureReason = &s
			case "amount_received":
				o.AmountReceived = v.(decimal.NullDecimal)
			}
		}
		o.Status = to
		st.orders[id] = o
		won = true
	})
	return won, err
}

func (f fakeOrders) RecordRefund(_ context.Context, id uuid.UUID, txHash string, at time.Time) error {
	err := repository.ErrNotFound
	f.r.with(func(st *fakeState) {
		o, ok := st.orders[id]
		if !ok {
			return
		}
		o.RefundTxHash = &txHash
		o.RefundedAt = &at
		st.orders[id] = o
		err = nil
	})
	return err
}

type fakeTicketTypes struct{ r *fakeRepos }

func (f fakeTicketTypes) FindByID(_ context.Context, id uuid.UUID) (*models.TicketType, error) {
	var out *models.TicketType
	f.r.with(func(st *fakeState) {
		if tt, ok := st.ticketTypes[id]; ok {
			out = &tt
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (f fakeTicketTypes) Create(_ context.Context, tt *models.TicketType) error {
	f.r.with(func(st *fakeState) { st.ticketTypes[tt.ID] = *tt })
	return nil
}

func (f fakeTicketTypes) IncrementSold(_ context.Context, id uuid.UUID, qty int) (*models.TicketType, error) {
	if err := f.r.db.reserveErr[id]; err != nil {
		return nil, err
	}
	var out *models.TicketType
	var err error
	f.r.with(func(st *fakeState) {
		tt, ok := st.ticketTypes[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		if tt.SoldQuantity+qty > tt.TotalQuantity {
			err = repository.ErrInsufficientInventory
			return
		}
		tt.SoldQuantity += qty
		st.ticketTypes[id] = tt
		out = &tt
	})
	return out, err
}

func (f fakeTicketTypes) DecrementSold(_ context.Context, id uuid.UUID, qty int) (*models.TicketType, error) {
	if err := f.r.db.releaseErr[id]; err != nil {
		return nil, err
	}
	var out *models.TicketType
	var err error
	f.r.with(func(st *fakeState) {
		tt, ok := st.ticketTypes[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		if qty > tt.SoldQuantity {
			err = repository.ErrOverRelease
			return
		}
		tt.SoldQuantity -= qty
		st.ticketTypes[id] = tt
		out = &tt
	})
	return out, err
}

type fakeTickets struct{ r *fakeRepos }

func (f fakeTickets) CreateBatch(_ context.Context, tickets []models.Ticket) error {
	if f.r.db.issueErr != nil {
		return f.r.db.issueErr
	}
	var err error
	f.r.with(func(st *fakeState) {
		for _, n := range tickets {
			for _, t := range st.tickets {
				if t.OrderID == n.OrderID && t.TicketTypeID == n.TicketTypeID && t.Serial == n.Serial {
					err = repository.ErrDuplicate
					return
				}
			}
		}
		st.tickets = append(st.tickets, tickets...)
	})
	return err
}

func (f fakeTickets) FindByOrderID(_ context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	var out []models.Ticket
	f.r.with(func(st *fakeState) {
		for _, t := range st.tickets {
			if t.OrderID == orderID {
				out = append(out, t)
			}
		}
	})
	return out, nil
}

type fakeCursors struct {
	mu      sync.Mutex
	values  map[string]string
	saveErr error
	saves   []string
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{values: map[string]string{}}
}

func (f *fakeCursors) Load(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeCursors) Save(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.values[key] = value
	f.saves = append(f.saves, value)
	return nil
}

func (f *fakeCursors) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

// streamSession scripts one connection of fakeStream.
type streamSession struct {
	events []models.PaymentEvent
	err    error
}

// fakeStream plays one session per Stream call. Once the script runs out
// it blocks until ctx is cancelled.
type fakeStream struct {
	mu       sync.Mutex
	sessions []streamSession
	cursors  []string
}

func (f *fakeStream) Stream(ctx context.Context, cursor string, handler func(context.Context, models.PaymentEvent) error) error {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	if len(f.sessions) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	s := f.sessions[0]
	f.sessions = f.sessions[1:]
	f.mu.Unlock()

	for _, evt := range s.events {
		if err := handler(ctx, evt); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	return errors.New("stream closed")
}

func (f *fakeStream) connectCursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

type fakeMemos struct {
	memos map[string]string
	err   error
}

func (f *fakeMemos) TransactionMemo(_ context.Context, txHash string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.memos[txHash], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, evt models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	values map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}, values: map[string]float64{}}
}

func (m *recordingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *recordingMetrics) RecordValue(_ context.Context, name string, v float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += v
	return nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
