package services

import (
	"context"
	"errors"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryService is the inventory ledger. Every change of a ticket type's
// sold counter goes through Reserve or Release.
type InventoryService struct {
	repos repository.Repositories
	log   *zap.Logger
}

func NewInventoryService(repos repository.Repositories, log *zap.Logger) *InventoryService {
	return &InventoryService{repos: repos, log: log}
}

// WithTx returns a ledger bound to an open transaction.
func (s *InventoryService) WithTx(tx repository.Repositories) *InventoryService {
	return &InventoryService{repos: tx, log: s.log}
}

func (s *InventoryService) Reserve(ctx context.Context, ticketTypeID uuid.UUID, qty int) (*models.TicketType, error) {
	if qty < 1 {
		return nil, apperrors.ErrInvalidQuantity
	}
	tt, err := s.repos.TicketTypes().IncrementSold(ctx, ticketTypeID, qty)
	if err != nil {
		return nil, inventoryError(err, ticketTypeID)
	}
	s.log.Debug("inventory reserved",
		zap.String("ticket_type_id", ticketTypeID.String()),
		zap.Int("qty", qty),
		zap.Int("sold", tt.SoldQuantity))
	return tt, nil
}

func (s *InventoryService) Release(ctx context.Context, ticketTypeID uuid.UUID, qty int) (*models.TicketType, error) {
	if qty < 1 {
		return nil, apperrors.ErrInvalidQuantity
	}
	tt, err := s.repos.TicketTypes().DecrementSold(ctx, ticketTypeID, qty)
	if err != nil {
		return nil, inventoryError(err, ticketTypeID)
	}
	s.log.Debug("inventory released",
		zap.String("ticket_type_id", ticketTypeID.String()),
		zap.Int("qty", qty),
		zap.Int("sold", tt.SoldQuantity))
	return tt, nil
}

// Availability returns total - sold.
func (s *InventoryService) Availability(ctx context.Context, ticketTypeID uuid.UUID) (int, error) {
	tt, err := s.repos.TicketTypes().FindByID(ctx, ticketTypeID)
	if err != nil {
		return 0, inventoryError(err, ticketTypeID)
	}
	return tt.Available(), nil
}

func inventoryError(err error, ticketTypeID uuid.UUID) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.ErrTicketTypeNotFound.WithDetail("%s", ticketTypeID)
	case errors.Is(err, repository.ErrInsufficientInventory):
		return apperrors.ErrInsufficientInventory.WithDetail("ticket type %s", ticketTypeID)
	case errors.Is(err, repository.ErrOverRelease):
		return apperrors.ErrOverRelease.WithDetail("ticket type %s", ticketTypeID)
	default:
		return apperrors.ErrInternal.Wrap(err)
	}
}
