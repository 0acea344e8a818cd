package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Feed operation types and asset types as reported by Horizon.
const (
	PaymentTypePayment = "payment"
	AssetTypeNative    = "native"
)

// PaymentEvent is one entry of the receiving account's payment feed.
type PaymentEvent struct {
	PagingToken     string          `json:"paging_token"`
	Type            string          `json:"type"`
	AssetType       string          `json:"asset_type"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionHash string          `json:"transaction_hash"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Order lifecycle event types published to Kafka / SNS
const (
	OrderEventCreated       = "order.created"
	OrderEventCancelled     = "order.cancelled"
	OrderEventExpired       = "order.expired"
	OrderEventPaid          = "order.paid"
	OrderEventPaymentFailed = "order.payment_failed"

	// the payment was seen but the order could not be resolved; it stays PENDING
	OrderEventPaymentUnapplied = "order.payment_unapplied"
)

type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Status     OrderStatus     `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	TxHash     string          `json:"tx_hash,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewOrderEvent builds an event snapshot of the order's current state.
func NewOrderEvent(eventType string, o *Order, at time.Time) OrderEvent {
	evt := OrderEvent{
		Type:       eventType,
		OrderID:    o.ID.String(),
		UserID:     o.UserID.String(),
		Status:     o.Status,
		Amount:     o.TotalAmount,
		OccurredAt: at,
	}
	if o.PaymentTxHash != nil {
		evt.TxHash = *o.PaymentTxHash
	}
	if o.FailureReason != nil {
		evt.Reason = *o.FailureReason
	}
	return evt
}
