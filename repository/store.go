package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound              = errors.New("record not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrOverRelease           = errors.New("release exceeds sold quantity")
	ErrDuplicate             = errors.New("duplicate record")
)

// Repositories groups the repositories that take part in one unit of work.
type Repositories interface {
	Orders() OrderRepository
	TicketTypes() InventoryRepository
	Tickets() TicketRepository
}

// UnitOfWork exposes the repositories outside a transaction and runs fn
// inside one. fn's repositories share the transaction; a non-nil return
// rolls everything back.
type UnitOfWork interface {
	Repositories
	Transaction(ctx context.Context, fn func(tx Repositories) error) error
}

// GormStore implements UnitOfWork on a gorm connection (or transaction).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Orders() OrderRepository {
	return NewGormOrderRepository(s.db)
}

func (s *GormStore) TicketTypes() InventoryRepository {
	return NewGormInventoryRepository(s.db)
}

func (s *GormStore) Tickets() TicketRepository {
	return NewGormTicketRepository(s.db)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
