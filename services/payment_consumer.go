package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Failure reasons recorded on FAILED orders.
const (
	ReasonExpiredBeforePayment = "expired before payment"
	ReasonInsufficientPayment  = "insufficient payment"
)

const (
	maxBackoff       = 5 * time.Minute
	maxRememberedTxs = 10000
)

// ErrReconnectExhausted ends Run once the stream failed more times in a row
// than allowed. An operator has to restart the consumer.
var ErrReconnectExhausted = errors.New("payment stream reconnect attempts exhausted")

// PaymentStream is an ordered, resumable feed of the receiving account's
// payments. Stream delivers every event after cursor to handler, one at a
// time, and returns when ctx ends, the connection drops, or handler fails.
type PaymentStream interface {
	Stream(ctx context.Context, cursor string, handler func(context.Context, models.PaymentEvent) error) error
}

// MemoResolver looks up the text memo of a ledger transaction. An empty
// memo is not an error.
type MemoResolver interface {
	TransactionMemo(ctx context.Context, txHash string) (string, error)
}

// PaymentOutcome is what the consumer decided for one feed event.
type PaymentOutcome string

const (
	OutcomeIgnored    PaymentOutcome = "ignored"
	OutcomeNoMemo     PaymentOutcome = "no_memo"
	OutcomeDuplicate  PaymentOutcome = "duplicate"
	OutcomeOrphan     PaymentOutcome = "orphan"
	OutcomeNotPending PaymentOutcome = "not_pending"
	OutcomeExpired    PaymentOutcome = "expired"
	OutcomeUnderpaid  PaymentOutcome = "underpaid"
	OutcomePaid       PaymentOutcome = "paid"
	OutcomeUnapplied  PaymentOutcome = "unapplied"
)

type PaymentConsumerConfig struct {
	ReceivingAddress     string
	CursorKey            string
	StartCursor          string
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
}

// PaymentConsumer matches incoming ledger payments to PENDING orders by
// memo. Events are handled strictly one at a time in feed order and the
// cursor only moves past an event once its effects are committed.
type PaymentConsumer struct {
	store     repository.UnitOfWork
	inventory *InventoryService
	cursors   repository.CursorRepository
	stream    PaymentStream
	memos     MemoResolver
	issuer    TicketIssuer
	cfg       PaymentConsumerConfig
	notifier  Notifier
	metrics   Metrics
	tracer    trace.Tracer
	log       *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	// processed is a fast path only; the unique payment_tx_hash column
	// is authoritative.
	processed map[string]struct{}

	mu         sync.Mutex
	cancel     context.CancelFunc
	stopped    atomic.Bool
	progressed atomic.Bool
}

func NewPaymentConsumer(store repository.UnitOfWork, inventory *InventoryService, cursors repository.CursorRepository,
	stream PaymentStream, memos MemoResolver, cfg PaymentConsumerConfig, log *zap.Logger) *PaymentConsumer {
	if cfg.CursorKey == "" {
		cfg.CursorKey = "payments"
	}
	if cfg.StartCursor == "" {
		cfg.StartCursor = "now"
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &PaymentConsumer{
		store:     store,
		inventory: inventory,
		cursors:   cursors,
		stream:    stream,
		memos:     memos,
		issuer:    StoreTicketIssuer{},
		cfg:       cfg,
		notifier:  noopNotifier{},
		metrics:   noopMetrics{},
		tracer:    otel.Tracer("payment-consumer"),
		log:       log,
		now:       time.Now,
		sleep:     sleepContext,
		processed: make(map[string]struct{}),
	}
}

func (c *PaymentConsumer) SetTicketIssuer(i TicketIssuer) {
	c.issuer = i
}

func (c *PaymentConsumer) SetNotifier(n Notifier) {
	c.notifier = n
}

func (c *PaymentConsumer) SetMetrics(m Metrics) {
	c.metrics = m
}

func (c *PaymentConsumer) SetClock(now func() time.Time) {
	c.now = now
}

// Run consumes the feed until ctx ends, Stop is called, or reconnecting
// fails MaxReconnectAttempts times in a row. Every (re)connect resumes from
// the durable cursor.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	attempt := 0
	for {
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		c.progressed.Store(false)
		err := c.connect(ctx)

		if c.stopped.Load() || ctx.Err() != nil {
			c.log.Info("payment consumer stopped")
			return nil
		}
		if c.progressed.Load() {
			attempt = 0
		}
		attempt++
		if attempt > c.cfg.MaxReconnectAttempts {
			c.log.Error("payment stream reconnect attempts exhausted",
				zap.Int("attempts", attempt-1),
				zap.Error(err))
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		backoff := c.Backoff(attempt)
		c.log.Warn("payment stream disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		recordCount(ctx, c.metrics, aws_pkg.MetricStreamReconnects, nil, c.log)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil
		}
	}
}

func (c *PaymentConsumer) connect(ctx context.Context) error {
	cursor, err := c.cursors.Load(ctx, c.cfg.CursorKey)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor == "" {
		cursor = c.cfg.StartCursor
	}
	c.log.Info("payment stream connecting", zap.String("cursor", cursor))
	return c.stream.Stream(ctx, cursor, c.handle)
}

// Stop ends Run and prevents any further reconnect.
func (c *PaymentConsumer) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Backoff returns InitialBackoff * 2^(attempt-1), capped at five minutes.
func (c *PaymentConsumer) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// handle processes one event and advances the cursor past it. A returned
// error tears the stream down without moving the cursor, so the event is
// replayed after reconnecting.
func (c *PaymentConsumer) handle(ctx context.Context, evt models.PaymentEvent) error {
	ctx, span := c.tracer.Start(ctx, "payment.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.tx_hash", evt.TransactionHash),
		attribute.String("payment.paging_token", evt.PagingToken),
	)

	outcome, err := c.process(ctx, evt)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))

	if err := c.cursors.Save(ctx, c.cfg.CursorKey, evt.PagingToken); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	c.progressed.Store(true)
	return nil
}

func (c *PaymentConsumer) process(ctx context.Context, evt models.PaymentEvent) (PaymentOutcome, error) {
	log := c.log.With(zap.String("tx_hash", evt.TransactionHash), zap.String("paging_token", evt.PagingToken))

	if evt.Type != models.PaymentTypePayment || evt.AssetType != models.AssetTypeNative || evt.To != c.cfg.ReceivingAddress {
		return OutcomeIgnored, nil
	}

	memo, err := c.memos.TransactionMemo(ctx, evt.TransactionHash)
	if err != nil {
		return "", fmt.Errorf("resolve memo: %w", err)
	}
	if memo == "" {
		log.Info("payment without memo, treating as external deposit", zap.String("amount", evt.Amount.String()))
		return OutcomeNoMemo, nil
	}

	if c.seen(evt.TransactionHash) {
		recordCount(ctx, c.metrics, aws_pkg.MetricPaymentsDuplicate, nil, log)
		return OutcomeDuplicate, nil
	}
	exists, err := c.store.Orders().ExistsByTxHash(ctx, evt.TransactionHash)
	if err != nil {
		return "", fmt.Errorf("check tx hash: %w", err)
	}
	if exists {
		c.remember(evt.TransactionHash)
		log.Info("payment already applied")
		recordCount(ctx, c.metrics, aws_pkg.MetricPaymentsDuplicate, nil, log)
		return OutcomeDuplicate, nil
	}

	order, err := c.store.Orders().FindByMemo(ctx, memo)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("orphaned payment, no order for memo", zap.String("memo", memo), zap.String("amount", evt.Amount.String()))
		return OutcomeOrphan, nil
	}
	if err != nil {
		return "", fmt.Errorf("find order by memo: %w", err)
	}
	log = log.With(zap.String("order_id", order.ID.String()))

	if order.Status != models.OrderStatusPending {
		log.Info("payment for order that is no longer pending", zap.String("status", string(order.Status)))
		return OutcomeNotPending, nil
	}

	now := c.now()
	switch {
	case order.IsExpired(now):
		return c.fail(ctx, order, evt, ReasonExpiredBeforePayment, OutcomeExpired, now, log)
	case evt.Amount.LessThan(order.TotalAmount):
		return c.fail(ctx, order, evt, ReasonInsufficientPayment, OutcomeUnderpaid, now, log)
	default:
		return c.pay(ctx, order, evt, now, log)
	}
}

// pay marks the order PAID and issues its tickets in one transaction.
func (c *PaymentConsumer) pay(ctx context.Context, order *models.Order, evt models.PaymentEvent, now time.Time, log *zap.Logger) (PaymentOutcome, error) {
	var issued int
	err := c.store.Transaction(ctx, func(tx repository.Repositories) error {
		won, err := tx.Orders().TransitionStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid,
			map[string]interface{}{
				"paid_at":         now,
				"payment_tx_hash": evt.TransactionHash,
				"amount_received": decimal.NewNullDecimal(evt.Amount),
			})
		if err != nil {
			return err
		}
		if !won {
			return apperrors.ErrOrderAlreadyResolved
		}
		tickets, err := c.issuer.Issue(ctx, tx, order, now)
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.ErrTicketIssuance.Wrap(err)
		}
		if err != nil {
			return fmt.Errorf("issue tickets: %w", err)
		}
		issued = len(tickets)
		return nil
	})
	if rejectsOrder(err) {
		return c.unapplied(ctx, order, evt, err, now, log), nil
	}
	if outcome, ok := c.lostRace(err, evt, log); ok {
		return outcome, nil
	}
	if err != nil {
		return "", err
	}
	c.remember(evt.TransactionHash)

	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	order.PaymentTxHash = &evt.TransactionHash
	order.AmountReceived = decimal.NewNullDecimal(evt.Amount)
	log.Info("order paid", zap.String("amount", evt.Amount.String()), zap.Int("tickets_issued", issued))
	recordCount(ctx, c.metrics, aws_pkg.MetricOrdersPaid, nil, log)
	recordCount(ctx, c.metrics, aws_pkg.MetricPaymentsProcessed, nil, log)
	notify(ctx, c.notifier, models.NewOrderEvent(models.OrderEventPaid, order, now), log)
	return OutcomePaid, nil
}

// fail moves the order to FAILED, records what arrived and returns its
// reservation to the ledger. Received funds are not refunded automatically.
func (c *PaymentConsumer) fail(ctx context.Context, order *models.Order, evt models.PaymentEvent, reason string,
	outcome PaymentOutcome, now time.Time, log *zap.Logger) (PaymentOutcome, error) {
	err := c.store.Transaction(ctx, func(tx repository.Repositories) error {
		_, err := releaseAndResolve(ctx, tx, c.inventory, order, models.OrderStatusFailed,
			map[string]interface{}{
				"failed_at":       now,
				"failure_reason":  reason,
				"payment_tx_hash": evt.TransactionHash,
				"amount_received": decimal.NewNullDecimal(evt.Amount),
			})
		return err
	})
	if rejectsOrder(err) {
		return c.unapplied(ctx, order, evt, err, now, log), nil
	}
	if o, ok := c.lostRace(err, evt, log); ok {
		return o, nil
	}
	if err != nil {
		return "", err
	}
	c.remember(evt.TransactionHash)

	order.Status = models.OrderStatusFailed
	order.FailedAt = &now
	order.FailureReason = &reason
	order.PaymentTxHash = &evt.TransactionHash
	order.AmountReceived = decimal.NewNullDecimal(evt.Amount)
	log.Warn("payment rejected",
		zap.String("reason", reason),
		zap.String("received", evt.Amount.String()),
		zap.String("required", order.TotalAmount.String()))
	recordCount(ctx, c.metrics, aws_pkg.MetricOrdersFailed, map[string]string{"Reason": reason}, log)
	recordCount(ctx, c.metrics, aws_pkg.MetricPaymentsProcessed, nil, log)
	notify(ctx, c.notifier, models.NewOrderEvent(models.OrderEventPaymentFailed, order, now), log)
	return outcome, nil
}

// rejectsOrder reports whether err is a ledger or issuance rejection of this
// one order. Those are event-level; everything else is an infrastructure
// failure and tears the stream down.
func rejectsOrder(err error) bool {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Kind {
	case apperrors.KindValidation, apperrors.KindCapacity, apperrors.KindNotFound:
		return true
	}
	return errors.Is(err, apperrors.ErrTicketIssuance)
}

// unapplied leaves the order PENDING (the sweeper still owns it) and lets the
// cursor move on. The hash is not remembered so a replay retries it.
func (c *PaymentConsumer) unapplied(ctx context.Context, order *models.Order, evt models.PaymentEvent, cause error,
	now time.Time, log *zap.Logger) PaymentOutcome {
	log.Error("payment could not be applied, order left pending",
		zap.String("amount", evt.Amount.String()),
		zap.Error(cause))
	recordCount(ctx, c.metrics, aws_pkg.MetricPaymentsUnapplied, nil, log)

	oe := models.NewOrderEvent(models.OrderEventPaymentUnapplied, order, now)
	oe.TxHash = evt.TransactionHash
	oe.Reason = cause.Error()
	notify(ctx, c.notifier, oe, log)
	return OutcomeUnapplied
}

// lostRace maps the errors that mean another writer got there first to
// event-level outcomes.
func (c *PaymentConsumer) lostRace(err error, evt models.PaymentEvent, log *zap.Logger) (PaymentOutcome, bool) {
	switch {
	case errors.Is(err, apperrors.ErrOrderAlreadyResolved):
		log.Info("order resolved concurrently, payment not applied")
		return OutcomeNotPending, true
	case errors.Is(err, repository.ErrDuplicate):
		c.remember(evt.TransactionHash)
		log.Info("payment hash already recorded")
		return OutcomeDuplicate, true
	default:
		return "", false
	}
}

func (c *PaymentConsumer) seen(txHash string) bool {
	_, ok := c.processed[txHash]
	return ok
}

func (c *PaymentConsumer) remember(txHash string) {
	if len(c.processed) >= maxRememberedTxs {
		c.processed = make(map[string]struct{})
	}
	c.processed[txHash] = struct{}{}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
