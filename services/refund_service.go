package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/Lead-Studios/veritix-backend-sub005/stellar"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const refundMemoPrefix = "RFND-"

// PaymentSubmitter signs and submits outbound ledger payments.
type PaymentSubmitter interface {
	BaseFee(ctx context.Context) (int64, error)
	SubmitPayment(ctx context.Context, p stellar.Payment) (string, error)
}

// RefundService sends buyers' funds back from the platform account.
type RefundService struct {
	submitter  PaymentSubmitter
	limiter    *rate.Limiter
	retryDelay time.Duration
	metrics    Metrics
	log        *zap.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// RefundRequest describes one operator refund. A zero Amount means the
// amount recorded as received on the order.
type RefundRequest struct {
	OrderID     uuid.UUID
	Destination string
	Amount      decimal.Decimal
	Force       bool
}

func NewRefundService(submitter PaymentSubmitter, ratePerSecond float64, retryDelay time.Duration, log *zap.Logger) *RefundService {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	return &RefundService{
		submitter:  submitter,
		limiter:    rate.NewLimiter(limit, 1),
		retryDelay: retryDelay,
		metrics:    noopMetrics{},
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func (s *RefundService) SetMetrics(m Metrics) {
	s.metrics = m
}

// RefundMemo references the order in at most 28 bytes.
func RefundMemo(orderID uuid.UUID) string {
	return (refundMemoPrefix + orderID.String())[:MaxMemoLength]
}

// SendRefund pays amount to destination and returns the transaction hash.
// A rate-limited submission is retried once after the retry delay; every
// other failure, including a second rate limit, is returned as is.
func (s *RefundService) SendRefund(ctx context.Context, destination string, amount decimal.Decimal, orderID uuid.UUID) (string, error) {
	log := s.log.With(zap.String("order_id", orderID.String()), zap.String("destination", destination))

	if destination == "" {
		return "", apperrors.ErrInvalidInput.WithDetail("destination is required")
	}
	if !amount.IsPositive() {
		return "", apperrors.ErrInvalidInput.WithDetail("refund amount must be positive")
	}

	fee, err := s.submitter.BaseFee(ctx)
	if err != nil {
		log.Warn("fee estimation failed, using base fee", zap.Error(err))
		fee = txnbuild.MinBaseFee
	}

	payment := stellar.Payment{
		Destination: destination,
		Amount:      amount,
		Memo:        RefundMemo(orderID),
		BaseFee:     fee,
	}

	hash, err := s.submit(ctx, payment)
	if errors.Is(err, apperrors.ErrRateLimited) {
		log.Warn("refund rate limited, retrying once", zap.Duration("delay", s.retryDelay))
		recordCount(ctx, s.metrics, aws_pkg.MetricRefundsRateLimited, nil, log)
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return "", err
		}
		hash, err = s.submit(ctx, payment)
	}
	if err != nil {
		log.Error("refund failed", zap.Error(err))
		return "", err
	}

	log.Info("refund submitted", zap.String("hash", hash), zap.String("amount", amount.String()), zap.Int64("fee", fee))
	recordCount(ctx, s.metrics, aws_pkg.MetricRefundsSubmitted, nil, log)
	return hash, nil
}

// RefundOrder refunds an order and records the refund hash on it. An order
// that already carries a refund hash is refused unless Force is set.
func (s *RefundService) RefundOrder(ctx context.Context, orders repository.OrderRepository, req RefundRequest) (string, error) {
	log := s.log.With(zap.String("order_id", req.OrderID.String()))

	order, err := orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return "", orderLookupError(err, req.OrderID)
	}
	if order.RefundTxHash != nil {
		if !req.Force {
			return "", apperrors.ErrAlreadyRefunded.WithDetail("tx %s", *order.RefundTxHash)
		}
		log.Warn("refunding again", zap.String("previous_hash", *order.RefundTxHash))
	}

	amount := req.Amount
	if amount.IsZero() {
		if !order.AmountReceived.Valid {
			return "", apperrors.ErrInvalidInput.WithDetail("order has no received amount on record, pass an amount")
		}
		amount = order.AmountReceived.Decimal
	}
	if order.Status == models.OrderStatusPaid {
		log.Warn("refunding a PAID order; its tickets stay issued")
	}

	hash, err := s.SendRefund(ctx, req.Destination, amount, order.ID)
	if err != nil {
		return "", err
	}
	if err := orders.RecordRefund(ctx, order.ID, hash, s.now()); err != nil {
		log.Error("refund sent but not recorded", zap.String("hash", hash), zap.Error(err))
		return hash, fmt.Errorf("record refund %s: %w", hash, err)
	}
	return hash, nil
}

func (s *RefundService) submit(ctx context.Context, p stellar.Payment) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.submitter.SubmitPayment(ctx, p)
}
