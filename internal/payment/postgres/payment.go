package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	paymentDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/payment"
	"github.com/pickandplay/guitar-api/internal/core/txctx"
	"github.com/pickandplay/guitar-api/internal/payment"
)

// PaymentRepository implements payment.Store on GORM. The database must be
// opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *payment.Payment) error {
	row := payment.ToDataModel(p)
	if err := txctx.DB(ctx, r.db).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", payment.ErrDuplicateTransaction, err)
		}
		return err
	}
	p.ID = row.ID
	p.CreatedAt = row.CreatedAt
	return nil
}

func (r *PaymentRepository) FindByTransactionRef(ctx context.Context, ref string) (*payment.Payment, error) {
	var row paymentDatamodel.Payment
	err := txctx.DB(ctx, r.db).Where("transaction_ref = ?", ref).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, err
	}
	return payment.FromDataModel(&row), nil
}

func (r *PaymentRepository) FindAllForOrder(ctx context.Context, orderID int64) ([]*payment.Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := txctx.DB(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	payments := make([]*payment.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, payment.FromDataModel(row))
	}
	return payments, nil
}
