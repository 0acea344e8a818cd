package services

import (
	"context"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
)

// releaseAndResolve is the compensation for an optimistic reservation: it
// returns every line of order to the ledger and moves the order from
// PENDING to status, all inside tx. Whichever caller wins the PENDING guard
// is the only one that releases; losers get ErrOrderAlreadyResolved and
// their transaction rolls the releases back.
//
// Releases run before the status write so a ledger failure leaves the order
// PENDING for the next attempt.
func releaseAndResolve(ctx context.Context, tx repository.Repositories, inventory *InventoryService,
	order *models.Order, status models.OrderStatus, fields map[string]interface{}) (int, error) {
	ledger := inventory.WithTx(tx)
	released := 0
	for _, item := range order.OrderItems {
		if _, err := ledger.Release(ctx, item.TicketTypeID, item.Quantity); err != nil {
			return 0, err
		}
		released += item.Quantity
	}

	won, err := tx.Orders().TransitionStatus(ctx, order.ID, models.OrderStatusPending, status, fields)
	if err != nil {
		return 0, apperrors.ErrInternal.Wrap(err)
	}
	if !won {
		return 0, apperrors.ErrOrderAlreadyResolved
	}
	return released, nil
}
