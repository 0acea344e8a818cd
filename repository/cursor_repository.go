package repository

import (
	"context"
	"errors"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorRepository persists the payment feed position. Load returns "" when
// no cursor has been saved yet.
type CursorRepository interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
}

type GormCursorRepository struct {
	db *gorm.DB
}

func NewGormCursorRepository(db *gorm.DB) *GormCursorRepository {
	return &GormCursorRepository{db: db}
}

func (r *GormCursorRepository) Load(ctx context.Context, key string) (string, error) {
	var cursor models.PaymentCursor
	err := r.db.WithContext(ctx).First(&cursor, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor.Value, nil
}

func (r *GormCursorRepository) Save(ctx context.Context, key, value string) error {
	cursor := models.PaymentCursor{Key: key, Value: value}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&cursor).Error
}
