package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/curbside/internal/metrics"
)

// legalNext defines every allowed order transition. Terminal states have no
// entry, so any transition out of them fails.
var legalNext = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusAccepted, StatusRejected, StatusExpired},
	StatusAccepted:  {StatusPreparing},
	StatusPreparing: {StatusReady},
	StatusReady:     {StatusCompleted},
}

func canTransition(from, to OrderStatus) bool {
	for _, next := range legalNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal order transition, including attempts
// to leave a terminal state.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

// ProcessorError wraps a failed payment processor call so handlers can map
// it to an upstream-failure response.
type ProcessorError struct {
	Op  string
	Err error
}

func (e *ProcessorError) Error() string { return "processor " + e.Op + ": " + e.Err.Error() }
func (e *ProcessorError) Unwrap() error { return e.Err }

// OrderService owns the order/authorization state machine. An order
// transition and its hold mutation are one unit: if the hold mutation
// fails, the order status is not advanced. Capture happens only on reaching
// completed; void only on rejected or expired. The transition table makes a
// capture and a void on the same authorization unreachable.
type OrderService struct {
	db        DB
	processor PaymentProcessor
}

func NewOrderService(db DB, processor PaymentProcessor) *OrderService {
	return &OrderService{db: db, processor: processor}
}

// Checkout places a manual-capture hold for the order total and persists
// the order with its authorization. If persisting fails after the hold was
// placed, the hold is voided best-effort so no ghost hold survives a
// storage error.
func (s *OrderService) Checkout(ctx context.Context, o *Order) (*Order, error) {
	now := time.Now().UTC()
	o.Status = StatusPending
	o.CreatedAt = now
	o.StatusUpdatedAt = now

	authID, err := s.processor.Authorize(ctx, o.ID, o.TotalCents)
	if err != nil {
		metrics.ProcessorErrorsTotal.WithLabelValues("authorize").Inc()
		return nil, &ProcessorError{Op: "authorize", Err: err}
	}
	o.AuthorizationID = authID

	auth := &Authorization{ID: authID, OrderID: o.ID, State: HoldAuthorized, CreatedAt: now}
	if err := s.db.CreateOrder(o, auth); err != nil {
		if verr := s.processor.Void(ctx, authID); verr != nil && !errors.Is(verr, ErrAlreadyVoided) {
			metrics.ProcessorErrorsTotal.WithLabelValues("void").Inc()
		}
		return nil, fmt.Errorf("persisting order: %w", err)
	}

	metrics.OrdersCreatedTotal.Inc()
	return o, nil
}

// Transition moves an order to a new status, resolving its hold first when
// the target status requires it. reason is recorded only for rejections.
func (s *OrderService) Transition(ctx context.Context, orderID string, to OrderStatus, reason string) (*Order, error) {
	o, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, nil
	}
	if !canTransition(o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}

	// Resolve the hold before touching the order status.
	switch to {
	case StatusCompleted:
		if err := s.captureHold(ctx, o.AuthorizationID); err != nil {
			return nil, err
		}
	case StatusRejected, StatusExpired:
		if err := s.voidHold(ctx, o.AuthorizationID); err != nil {
			return nil, err
		}
	}

	if to != StatusRejected {
		reason = ""
	}
	now := time.Now().UTC()
	if err := s.db.UpdateOrderStatus(orderID, o.Status, to, reason, now); err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	o.Status = to
	o.RejectionReason = reason
	o.StatusUpdatedAt = now
	return o, nil
}

// captureHold charges the hold. A hold the processor already captured is
// success; one it already voided is a hard failure, since a voided hold can
// never back a completed order.
func (s *OrderService) captureHold(ctx context.Context, authID string) error {
	err := s.processor.Capture(ctx, authID)
	if err != nil && !errors.Is(err, ErrAlreadyCaptured) {
		metrics.ProcessorErrorsTotal.WithLabelValues("capture").Inc()
		return &ProcessorError{Op: "capture", Err: err}
	}
	return s.db.UpdateAuthorizationState(authID, HoldCaptured)
}

// voidHold releases the hold, treating "already voided" as success: another
// sweep or a concurrent rejection may have won the race.
func (s *OrderService) voidHold(ctx context.Context, authID string) error {
	err := s.processor.Void(ctx, authID)
	if err != nil && !errors.Is(err, ErrAlreadyVoided) {
		metrics.ProcessorErrorsTotal.WithLabelValues("void").Inc()
		return &ProcessorError{Op: "void", Err: err}
	}
	return s.db.UpdateAuthorizationState(authID, HoldVoided)
}
