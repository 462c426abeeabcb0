// Package sweeper repairs orders whose status fell behind their recorded
// payments, e.g. when the order update failed after a payment was committed.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal/order"
)

const staleOrdersQuery = `
SELECT o.id
FROM orders o
WHERE o.status <> 'completed'
  AND EXISTS (
    SELECT 1 FROM bakong_payments p
    WHERE p.order_id = o.id AND p.status = 'success'
  )
ORDER BY o.updated_at ASC
LIMIT $1`

// Recomputer re-derives an order's status from its ledger.
type Recomputer interface {
	Recompute(ctx context.Context, orderID int64) (*order.Order, decimal.Decimal, error)
}

type Sweeper struct {
	db        *sqlx.DB
	recompute Recomputer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func New(db *sqlx.DB, recompute Recomputer, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		db:        db,
		recompute: recompute,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Candidates lists unsettled orders that have at least one success payment.
func (s *Sweeper) Candidates(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, staleOrdersQuery, s.batchSize); err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	return ids, nil
}

// SweepOnce recomputes every candidate and returns how many orders changed to
// completed. A failing order is logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.Candidates(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		o, collected, err := s.recompute.Recompute(ctx, id)
		if err != nil {
			s.logger.Error("failed to recompute order", "order_id", id, "error", err)
			continue
		}
		if o.Status == order.StatusCompleted {
			settled++
		}
		s.logger.Debug("order recomputed",
			"order_id", id,
			"collected", collected.String(),
			"status", o.Status,
			"payment_status", o.PaymentStatus)
	}

	if len(ids) > 0 {
		s.logger.Info("sweep finished", "candidates", len(ids), "settled", settled)
	}
	return settled, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval.String(), "batch_size", s.batchSize)
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
