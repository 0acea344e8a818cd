package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/stellar"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubmitter returns results in order, one per SubmitPayment call.
type fakeSubmitter struct {
	fee      int64
	feeErr   error
	results  []error
	payments []stellar.Payment
}

func (f *fakeSubmitter) BaseFee(context.Context) (int64, error) {
	return f.fee, f.feeErr
}

func (f *fakeSubmitter) SubmitPayment(_ context.Context, p stellar.Payment) (string, error) {
	f.payments = append(f.payments, p)
	var err error
	if len(f.results) > 0 {
		err = f.results[0]
		f.results = f.results[1:]
	}
	if err != nil {
		return "", err
	}
	return "hash-" + p.Memo, nil
}

func newRefundFixture(sub *fakeSubmitter) (*RefundService, *[]time.Duration, *recordingMetrics) {
	svc := NewRefundService(sub, 0, 2*time.Second, testLogger())
	var sleeps []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	metrics := newRecordingMetrics()
	svc.SetMetrics(metrics)
	return svc, &sleeps, metrics
}

var refundOrderID = uuid.MustParse("6f1c2d3e-4b5a-4c6d-8e7f-90a1b2c3d4e5")

const buyerAddress = "GBUYERACCOUNT"

func TestSendRefund_Success(t *testing.T) {
	sub := &fakeSubmitter{fee: 250}
	svc, sleeps, metrics := newRefundFixture(sub)

	hash, err := svc.SendRefund(context.Background(), buyerAddress, decimal.RequireFromString("12.5"), refundOrderID)
	require.NoError(t, err)
	assert.Equal(t, "hash-"+RefundMemo(refundOrderID), hash)

	require.Len(t, sub.payments, 1)
	p := sub.payments[0]
	assert.Equal(t, buyerAddress, p.Destination)
	assert.Equal(t, "12.5", p.Amount.String())
	assert.Equal(t, int64(250), p.BaseFee)
	assert.Equal(t, RefundMemo(refundOrderID), p.Memo)
	assert.LessOrEqual(t, len(p.Memo), MaxMemoLength)
	assert.Empty(t, *sleeps)
	assert.Equal(t, 1, metrics.counts[aws_pkg.MetricRefundsSubmitted])
}

func TestSendRefund_FeeFallback(t *testing.T) {
	sub := &fakeSubmitter{feeErr: errors.New("fee_stats unavailable")}
	svc, _, _ := newRefundFixture(sub)

	_, err := svc.SendRefund(context.Background(), buyerAddress, decimal.NewFromInt(1), refundOrderID)
	require.NoError(t, err)
	require.Len(t, sub.payments, 1)
	assert.Equal(t, int64(txnbuild.MinBaseFee), sub.payments[0].BaseFee)
}

func TestSendRefund_RetriesOnceWhenRateLimited(t *testing.T) {
	limited := apperrors.ErrRateLimited.Wrap(errors.New("horizon: 429"))
	sub := &fakeSubmitter{fee: 100, results: []error{limited, nil}}
	svc, sleeps, metrics := newRefundFixture(sub)

	hash, err := svc.SendRefund(context.Background(), buyerAddress, decimal.NewFromInt(5), refundOrderID)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Len(t, sub.payments, 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
	assert.Equal(t, 1, metrics.counts[aws_pkg.MetricRefundsRateLimited])
	assert.Equal(t, 1, metrics.counts[aws_pkg.MetricRefundsSubmitted])
}

func TestSendRefund_SecondRateLimitPropagates(t *testing.T) {
	limited := apperrors.ErrRateLimited.Wrap(errors.New("horizon: 429"))
	sub := &fakeSubmitter{fee: 100, results: []error{limited, limited, nil}}
	svc, sleeps, metrics := newRefundFixture(sub)

	_, err := svc.SendRefund(context.Background(), buyerAddress, decimal.NewFromInt(5), refundOrderID)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Len(t, sub.payments, 2)
	assert.Len(t, *sleeps, 1)
	assert.Zero(t, metrics.counts[aws_pkg.MetricRefundsSubmitted])
}

func TestSendRefund_OtherErrorsAreNotRetried(t *testing.T) {
	sub := &fakeSubmitter{fee: 100, results: []error{errors.New("tx_bad_seq")}}
	svc, sleeps, _ := newRefundFixture(sub)

	_, err := svc.SendRefund(context.Background(), buyerAddress, decimal.NewFromInt(5), refundOrderID)
	assert.EqualError(t, err, "tx_bad_seq")
	assert.Len(t, sub.payments, 1)
	assert.Empty(t, *sleeps)
}

func TestSendRefund_Validation(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		amount      decimal.Decimal
	}{
		{"missing destination", "", decimal.NewFromInt(1)},
		{"zero amount", buyerAddress, decimal.Zero},
		{"negative amount", buyerAddress, decimal.NewFromInt(-3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			svc, _, _ := newRefundFixture(sub)

			_, err := svc.SendRefund(context.Background(), tt.destination, tt.amount, refundOrderID)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Empty(t, sub.payments)
		})
	}
}

// refundableOrder stores a FAILED order holding received funds.
func refundableOrder(db *fakeDB, received string) models.Order {
	o := db.addPendingOrder("100", testNow, models.OrderItem{TicketTypeID: uuid.New(), Quantity: 1})
	db.mu.Lock()
	stored := db.state.orders[o.ID]
	stored.Status = models.OrderStatusFailed
	if received != "" {
		stored.AmountReceived = decimal.NewNullDecimal(decimal.RequireFromString(received))
	}
	db.state.orders[o.ID] = stored
	db.mu.Unlock()
	return stored
}

func TestRefundOrder_RecordsHashAndDefaultsToReceived(t *testing.T) {
	db := newFakeDB()
	order := refundableOrder(db, "99")
	sub := &fakeSubmitter{fee: 200}
	svc, _, _ := newRefundFixture(sub)
	svc.now = func() time.Time { return testNow }

	hash, err := svc.RefundOrder(context.Background(), db.store().Orders(), RefundRequest{OrderID: order.ID, Destination: buyerAddress})
	require.NoError(t, err)
	assert.Equal(t, "hash-"+RefundMemo(order.ID), hash)
	require.Len(t, sub.payments, 1)
	assert.Equal(t, "99", sub.payments[0].Amount.String())

	stored := db.order(order.ID)
	require.NotNil(t, stored.RefundTxHash)
	assert.Equal(t, hash, *stored.RefundTxHash)
	require.NotNil(t, stored.RefundedAt)
	assert.Equal(t, testNow, *stored.RefundedAt)
}

func TestRefundOrder_RefusesSecondRefund(t *testing.T) {
	db := newFakeDB()
	order := refundableOrder(db, "99")
	sub := &fakeSubmitter{fee: 200}
	svc, _, _ := newRefundFixture(sub)
	orders := db.store().Orders()
	req := RefundRequest{OrderID: order.ID, Destination: buyerAddress}

	first, err := svc.RefundOrder(context.Background(), orders, req)
	require.NoError(t, err)

	_, err = svc.RefundOrder(context.Background(), orders, req)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRefunded)
	assert.ErrorContains(t, err, first)
	assert.Len(t, sub.payments, 1)

	req.Force = true
	req.Amount = decimal.RequireFromString("1.5")
	_, err = svc.RefundOrder(context.Background(), orders, req)
	require.NoError(t, err)
	require.Len(t, sub.payments, 2)
	assert.Equal(t, "1.5", sub.payments[1].Amount.String())
}

func TestRefundOrder_Rejections(t *testing.T) {
	db := newFakeDB()
	noFunds := refundableOrder(db, "")
	sub := &fakeSubmitter{fee: 200}
	svc, _, _ := newRefundFixture(sub)
	orders := db.store().Orders()

	_, err := svc.RefundOrder(context.Background(), orders, RefundRequest{OrderID: noFunds.ID, Destination: buyerAddress})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.RefundOrder(context.Background(), orders, RefundRequest{OrderID: uuid.New(), Destination: buyerAddress})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)

	assert.Empty(t, sub.payments)
	assert.Nil(t, db.order(noFunds.ID).RefundTxHash)
}

func TestRefundOrder_SubmitFailureRecordsNothing(t *testing.T) {
	db := newFakeDB()
	order := refundableOrder(db, "99")
	sub := &fakeSubmitter{fee: 200, results: []error{errors.New("tx_bad_seq")}}
	svc, _, _ := newRefundFixture(sub)

	hash, err := svc.RefundOrder(context.Background(), db.store().Orders(), RefundRequest{OrderID: order.ID, Destination: buyerAddress})
	assert.EqualError(t, err, "tx_bad_seq")
	assert.Empty(t, hash)
	assert.Nil(t, db.order(order.ID).RefundTxHash)
}
