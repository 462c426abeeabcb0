package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pickandplay/guitar-api/internal"
	orderDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/order"
	"github.com/pickandplay/guitar-api/internal/core/txctx"
	"github.com/pickandplay/guitar-api/internal/order"
)

// OrderRepository implements order.Repository using GORM
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order; used by the seeder and tests.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	row := order.ToDataModel(o)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return internal.NewPersistenceError("failed to create order", err)
	}
	o.ID = row.ID
	o.CreatedAt = row.CreatedAt
	o.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	var row orderDatamodel.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrOrderNotFound
		}
		return nil, internal.NewPersistenceError("failed to load order", err)
	}
	return order.FromDataModel(&row), nil
}

// Save writes the derived status columns only. A row that is already completed
// is left alone unless the new status is completed too, so a stale writer from
// another process cannot downgrade it.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	return save(r.db.WithContext(ctx), o)
}

// UpdateLocked runs apply against the order row selected FOR UPDATE. The
// transaction travels in the context handed to apply so payment reads join it.
func (r *OrderRepository) UpdateLocked(ctx context.Context, id int64, apply func(ctx context.Context, o *order.Order) error) (*order.Order, error) {
	var updated *order.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row orderDatamodel.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return internal.ErrOrderNotFound
			}
			return internal.NewPersistenceError("failed to lock order", err)
		}

		o := order.FromDataModel(&row)
		if err := apply(txctx.With(ctx, tx), o); err != nil {
			return err
		}
		if err := save(tx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewPersistenceError("failed to update order", err)
	}
	return updated, nil
}

func save(db *gorm.DB, o *order.Order) error {
	q := db.Model(&orderDatamodel.Order{}).Where("id = ?", o.ID)
	if o.Status != order.StatusCompleted {
		q = q.Where("status <> ?", order.StatusCompleted)
	}

	res := q.Updates(map[string]interface{}{
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"updated_at":     o.UpdatedAt,
	})
	if res.Error != nil {
		return internal.NewPersistenceError("failed to save order", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&orderDatamodel.Order{}).Where("id = ?", o.ID).Count(&count).Error; err != nil {
		return internal.NewPersistenceError("failed to save order", err)
	}
	if count == 0 {
		return internal.ErrOrderNotFound
	}
	return nil
}
