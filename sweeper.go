package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/curbside/internal/metrics"
)

// SweepResult reports what one sweep accomplished.
type SweepResult struct {
	Swept  int `json:"swept"`
	Errors int `json:"errors"`
}

// Sweeper forcibly resolves authorization holds whose orders sat in pending
// past the TTL: the order is expired and its hold voided. It is a pure
// function of the current time and the current pending set, so redundant or
// concurrent invocations are harmless; re-sweeping an already-expired order
// is a no-op because the query only selects pending orders.
type Sweeper struct {
	db          DB
	orders      *OrderService
	ttl         time.Duration
	callTimeout time.Duration
}

func NewSweeper(db DB, orders *OrderService, ttl time.Duration) *Sweeper {
	return &Sweeper{db: db, orders: orders, ttl: ttl, callTimeout: 15 * time.Second}
}

// Sweep expires every pending order older than the TTL. Per-order failures
// are isolated and counted; one stuck processor call cannot stall the run
// past its per-call timeout.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepResult {
	metrics.SweepRunsTotal.Inc()

	var res SweepResult
	stale, err := s.db.PendingOrdersOlderThan(now.Add(-s.ttl))
	if err != nil {
		log.Printf("sweep: listing stale orders: %v", err)
		res.Errors++
		return res
	}

	for _, o := range stale {
		cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		_, err := s.orders.Transition(cctx, o.ID, StatusExpired, "")
		cancel()

		if err != nil {
			var te *TransitionError
			if errors.As(err, &te) || errors.Is(err, ErrStatusConflict) {
				// A café action or concurrent sweep resolved it first.
				log.Printf("sweep: order %s already resolved: %v", o.ID, err)
				continue
			}
			log.Printf("sweep: order %s: %v", o.ID, err)
			res.Errors++
			metrics.SweepErrorsTotal.Inc()
			continue
		}
		res.Swept++
		metrics.SweepExpiredTotal.Inc()
	}

	log.Printf("sweep complete: %d expired, %d errors, %d candidates", res.Swept, res.Errors, len(stale))
	return res
}
