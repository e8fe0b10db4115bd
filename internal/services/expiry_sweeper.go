package services

import (
	"context"
	"errors"
	"time"

	"github.com/campus-canteen/api/internal/repositories"
)

const defaultSweepInterval = 30 * time.Second

// ExpirySweeperDeps bundles collaborators for the background payment-window sweeper.
type ExpirySweeperDeps struct {
	Orders  repositories.OrderRepository
	Expirer OrderExpirer
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)

	// Interval between sweeps; defaults to 30 seconds.
	Interval time.Duration
	// BatchSize bounds one sweep scan.
	BatchSize int
}

// ExpirySweeper periodically cancels orders whose payment window lapsed.
// It shares the expiry primitive with the on-demand paths, so concurrent
// sweeps and reads converge on the same terminal state.
type ExpirySweeper struct {
	orders    repositories.OrderRepository
	expirer   OrderExpirer
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	interval  time.Duration
	batchSize int
}

// NewExpirySweeper wires dependencies into a sweeper.
func NewExpirySweeper(deps ExpirySweeperDeps) (*ExpirySweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiry sweeper: order repository is required")
	}
	if deps.Expirer == nil {
		return nil, errors.New("expiry sweeper: order expirer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultOverdueBatchSize
	}

	return &ExpirySweeper{
		orders:    deps.Orders,
		expirer:   deps.Expirer,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		interval:  interval,
		batchSize: batch,
	}, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger(ctx, "order.expiry.sweep.failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// SweepOnce expires one batch of overdue orders and reports how many changed
// state. Per-order failures are logged and do not abort the batch.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	overdue, err := s.orders.ListOverdue(ctx, "", s.clock(), s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range overdue {
		_, changed, err := s.expirer.ExpireOverdue(ctx, order.ID)
		if err != nil {
			s.logger(ctx, "order.expiry.failed", map[string]any{"order": order.ID, "error": err.Error()})
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}
