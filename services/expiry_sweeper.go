package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const sweepLockKey = "locks:expiry-sweep"

// ErrSweepInProgress is returned by RunOnce when another run holds the sweep.
var ErrSweepInProgress = errors.New("expiry sweep already running")

type SweepResult struct {
	CheckedAt       time.Time   `json:"checked_at"`
	ExpiredCount    int         `json:"expired_count"`
	TicketsReleased int         `json:"tickets_released"`
	FailedOrderIDs  []uuid.UUID `json:"failed_order_ids"`
}

// ExpirySweeper reclaims the reservations of PENDING orders whose payment
// window closed.
type ExpirySweeper struct {
	store     repository.UnitOfWork
	inventory *InventoryService
	interval  time.Duration
	batchSize int
	locker    Locker
	running   atomic.Bool
	notifier  Notifier
	metrics   Metrics
	tracer    trace.Tracer
	log       *zap.Logger
	now       func() time.Time
}

func NewExpirySweeper(store repository.UnitOfWork, inventory *InventoryService, interval time.Duration, batchSize int, log *zap.Logger) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ExpirySweeper{
		store:     store,
		inventory: inventory,
		interval:  interval,
		batchSize: batchSize,
		notifier:  noopNotifier{},
		metrics:   noopMetrics{},
		tracer:    otel.Tracer("expiry-sweeper"),
		log:       log,
		now:       time.Now,
	}
}

// SetLocker adds a cross-process lock on top of the in-process guard.
func (s *ExpirySweeper) SetLocker(l Locker) {
	s.locker = l
}

func (s *ExpirySweeper) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *ExpirySweeper) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *ExpirySweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs a sweep on every tick until ctx is done. A tick that finds the
// previous sweep still running is skipped.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one sweep. Each expired order is handled in its own
// transaction; a failing order is reported in FailedOrderIDs, stays PENDING
// and is retried by the next run.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL())
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Debug("expiry sweep held by another replica")
			return nil, ErrSweepInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	ctx, span := s.tracer.Start(ctx, "orders.expiry_sweep")
	defer span.End()

	start := time.Now()
	now := s.now()
	result := &SweepResult{CheckedAt: now, FailedOrderIDs: []uuid.UUID{}}

	orders, err := s.store.Orders().FindExpiredPending(ctx, now, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(orders) == 0 {
		return result, nil
	}

	for i := range orders {
		order := &orders[i]
		released, err := s.expire(ctx, order, now)
		if errors.Is(err, apperrors.ErrOrderAlreadyResolved) {
			s.log.Info("order resolved before sweep reached it", zap.String("order_id", order.ID.String()))
			continue
		}
		if err != nil {
			result.FailedOrderIDs = append(result.FailedOrderIDs, order.ID)
			s.log.Error("failed to expire order", zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		result.ExpiredCount++
		result.TicketsReleased += released

		order.Status = models.OrderStatusCancelled
		order.CancelledAt = &now
		notify(ctx, s.notifier, models.NewOrderEvent(models.OrderEventExpired, order, now), s.log)
	}

	span.SetAttributes(
		attribute.Int("sweep.checked", len(orders)),
		attribute.Int("sweep.expired", result.ExpiredCount),
		attribute.Int("sweep.failed", len(result.FailedOrderIDs)),
	)
	recordValue(ctx, s.metrics, aws_pkg.MetricOrdersExpired, float64(result.ExpiredCount), nil, s.log)
	recordValue(ctx, s.metrics, aws_pkg.MetricInventoryReleased, float64(result.TicketsReleased), nil, s.log)
	recordValue(ctx, s.metrics, aws_pkg.MetricSweepFailures, float64(len(result.FailedOrderIDs)), nil, s.log)
	recordValue(ctx, s.metrics, aws_pkg.MetricSweepLatency, float64(time.Since(start).Milliseconds()), nil, s.log)

	s.log.Info("expiry sweep finished",
		zap.Int("checked", len(orders)),
		zap.Int("expired", result.ExpiredCount),
		zap.Int("tickets_released", result.TicketsReleased),
		zap.Int("failed", len(result.FailedOrderIDs)))
	return result, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, order *models.Order, now time.Time) (int, error) {
	var released int
	err := s.store.Transaction(ctx, func(tx repository.Repositories) error {
		n, err := releaseAndResolve(ctx, tx, s.inventory, order, models.OrderStatusCancelled,
			map[string]interface{}{"cancelled_at": now})
		released = n
		return err
	})
	return released, err
}

// lockTTL bounds how long a crashed holder can block other replicas.
func (s *ExpirySweeper) lockTTL() time.Duration {
	if s.interval > 0 {
		return s.interval
	}
	return time.Minute
}
