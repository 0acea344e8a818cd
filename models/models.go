package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled || s == OrderStatusFailed
}

// TicketType is the unit of inventory. SoldQuantity is only ever changed by
// conditional increments/decrements in the inventory repository.
type TicketType struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"event_id"`
	Name          string          `gorm:"type:varchar(120);not null" json:"name"`
	Price         decimal.Decimal `gorm:"type:numeric(20,7);not null" json:"price"`
	TotalQuantity int             `gorm:"not null;check:chk_ticket_types_total,total_quantity >= 0" json:"total_quantity"`
	SoldQuantity  int             `gorm:"not null;default:0;check:chk_ticket_types_sold,sold_quantity >= 0 AND sold_quantity <= total_quantity" json:"sold_quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Available returns the number of tickets that can still be reserved.
func (t *TicketType) Available() int {
	return t.TotalQuantity - t.SoldQuantity
}

type Order struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID         uuid.UUID           `gorm:"type:uuid;not null;index" json:"user_id"`
	EventID        uuid.UUID           `gorm:"type:uuid;not null;index" json:"event_id"`
	Status         OrderStatus         `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_orders_status_expires,priority:1" json:"status"`
	ExpiresAt      time.Time           `gorm:"not null;index:idx_orders_status_expires,priority:2" json:"expires_at"`
	TotalAmount    decimal.Decimal     `gorm:"type:numeric(20,7);not null" json:"total_amount"`
	PaymentMemo    string              `gorm:"type:varchar(28);uniqueIndex;not null" json:"payment_memo"`
	PaymentTxHash  *string             `gorm:"type:varchar(64);uniqueIndex" json:"payment_tx_hash,omitempty"`
	AmountReceived decimal.NullDecimal `gorm:"type:numeric(20,7)" json:"amount_received,omitempty"`
	FailureReason  *string             `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	FailedAt       *time.Time          `json:"failed_at,omitempty"`
	RefundTxHash   *string             `gorm:"type:varchar(64)" json:"refund_tx_hash,omitempty"`
	RefundedAt     *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt      `gorm:"index" json:"-"`
	OrderItems     []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

// IsExpired reports whether the payment window closed at or before now.
func (o *Order) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// TicketCount is the total number of tickets across all line items.
func (o *Order) TicketCount() int {
	n := 0
	for _, it := range o.OrderItems {
		n += it.Quantity
	}
	return n
}

// OrderItem snapshots the unit price at creation time so later catalog price
// changes never touch an existing order.
type OrderItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	TicketTypeID uuid.UUID       `gorm:"type:uuid;not null;index" json:"ticket_type_id"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(20,7);not null" json:"unit_price"`
	Subtotal     decimal.Decimal `gorm:"type:numeric(20,7);not null" json:"subtotal"`
}

// Ticket is one issued admission. Issuance is gated by the PAID transition;
// the composite unique index backs that at the storage level.
type Ticket struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tickets_order_item_serial,priority:1" json:"order_id"`
	TicketTypeID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tickets_order_item_serial,priority:2" json:"ticket_type_id"`
	Serial       int       `gorm:"not null;uniqueIndex:idx_tickets_order_item_serial,priority:3" json:"serial"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Code         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	IssuedAt     time.Time `gorm:"not null" json:"issued_at"`
}

// PaymentCursor is the durable position of the payment feed consumer.
type PaymentCursor struct {
	Key       string    `gorm:"type:varchar(120);primaryKey" json:"key"`
	Value     string    `gorm:"type:varchar(120);not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
