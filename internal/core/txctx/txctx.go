// Package txctx carries an open gorm transaction through a context so stores
// from different packages can join it.
package txctx

import (
	"context"

	"gorm.io/gorm"
)

type ctxKey string

const txKey ctxKey = "gorm_tx"

func With(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// DB returns the transaction carried by ctx, or db when there is none.
func DB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
