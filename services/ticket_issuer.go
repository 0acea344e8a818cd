package services

import (
	"context"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/google/uuid"
)

// TicketIssuer turns a freshly paid order into tickets inside the payment
// transaction. It is called once per order; the PAID transition gates it.
type TicketIssuer interface {
	Issue(ctx context.Context, tx repository.Repositories, order *models.Order, at time.Time) ([]models.Ticket, error)
}

// StoreTicketIssuer writes one ticket row per admitted seat.
type StoreTicketIssuer struct{}

func (StoreTicketIssuer) Issue(ctx context.Context, tx repository.Repositories, order *models.Order, at time.Time) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0, order.TicketCount())
	// serials run per ticket type, across lines that repeat a type
	next := make(map[uuid.UUID]int, len(order.OrderItems))
	for _, item := range order.OrderItems {
		for i := 0; i < item.Quantity; i++ {
			next[item.TicketTypeID]++
			serial := next[item.TicketTypeID]
			tickets = append(tickets, models.Ticket{
				ID:           uuid.New(),
				OrderID:      order.ID,
				TicketTypeID: item.TicketTypeID,
				Serial:       serial,
				UserID:       order.UserID,
				Code:         uuid.NewString(),
				IssuedAt:     at,
			})
		}
	}
	if err := tx.Tickets().CreateBatch(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}
