package repository

import (
	"context"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TicketRepository interface {
	CreateBatch(ctx context.Context, tickets []models.Ticket) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error)
}

type GormTicketRepository struct {
	db *gorm.DB
}

func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

func (r *GormTicketRepository) CreateBatch(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).CreateInBatches(tickets, 100).Error)
}

func (r *GormTicketRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("ticket_type_id, serial").
		Find(&tickets).Error; err != nil {
		return nil, translate(err)
	}
	return tickets, nil
}
