package repository

import (
	"context"
	"fmt"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryRepository owns the sold counter of ticket types.
type InventoryRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.TicketType, error)
	Create(ctx context.Context, tt *models.TicketType) error
	IncrementSold(ctx context.Context, id uuid.UUID, qty int) (*models.TicketType, error)
	DecrementSold(ctx context.Context, id uuid.UUID, qty int) (*models.TicketType, error)
}

type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var tt models.TicketType
	if err := r.db.WithContext(ctx).First(&tt, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &tt, nil
}

func (r *GormInventoryRepository) Create(ctx context.Context, tt *models.TicketType) error {
	return translate(r.db.WithContext(ctx).Create(tt).Error)
}

// IncrementSold reserves qty tickets with one conditional UPDATE, so two
// concurrent reservations can never both pass the capacity check.
func (r *GormInventoryRepository) IncrementSold(ctx context.Context, id uuid.UUID, qty int) (*models.TicketType, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketType{}).
		Where("id = ? AND sold_quantity + ? <= total_quantity", id, qty).
		UpdateColumn("sold_quantity", gorm.Expr("sold_quantity + ?", qty))
	if res.Error != nil {
		return nil, fmt.Errorf("increment sold quantity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, id, ErrInsufficientInventory)
	}
	return r.FindByID(ctx, id)
}

// DecrementSold releases qty tickets; it never lets sold_quantity go negative.
func (r *GormInventoryRepository) DecrementSold(ctx context.Context, id uuid.UUID, qty int) (*models.TicketType, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketType{}).
		Where("id = ? AND sold_quantity >= ?", id, qty).
		UpdateColumn("sold_quantity", gorm.Expr("sold_quantity - ?", qty))
	if res.Error != nil {
		return nil, fmt.Errorf("decrement sold quantity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, id, ErrOverRelease)
	}
	return r.FindByID(ctx, id)
}

// missOrConflict tells a missing row apart from a failed guard.
func (r *GormInventoryRepository) missOrConflict(ctx context.Context, id uuid.UUID, conflict error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.TicketType{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("check ticket type: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return conflict
}
