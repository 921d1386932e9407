package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestOrderService(t *testing.T) (*MemDB, *FakeProcessor, *OrderService) {
	t.Helper()
	db := NewMemoryDB()
	proc := NewFakeProcessor()
	return db, proc, NewOrderService(db, proc)
}

func mustCheckout(t *testing.T, svc *OrderService) *Order {
	t.Helper()
	o, err := svc.Checkout(context.Background(), &Order{
		ID:            newOrderID(),
		CafeID:        "cafe-1",
		CustomerName:  "Sam",
		CustomerPhone: "+1 555 0123",
		Items:         []OrderItem{{Name: "Latte", Quantity: 1, PriceCents: 450}},
		TotalCents:    450,
	})
	require.NoError(t, err)
	return o
}

func TestCheckoutCreatesPendingOrderWithHold(t *testing.T) {
	db, proc, svc := newTestOrderService(t)

	o := mustCheckout(t, svc)
	require.Equal(t, StatusPending, o.Status)
	require.NotEmpty(t, o.AuthorizationID)
	require.Equal(t, HoldAuthorized, proc.HoldState(o.AuthorizationID))

	auth, err := db.GetAuthorization(o.AuthorizationID)
	require.NoError(t, err)
	require.NotNil(t, auth)
	require.Equal(t, o.ID, auth.OrderID)
	require.Equal(t, HoldAuthorized, auth.State)
}

func TestCheckoutAuthorizeFailureCreatesNothing(t *testing.T) {
	db, proc, svc := newTestOrderService(t)
	proc.AuthorizeErr = errors.New("card declined")

	_, err := svc.Checkout(context.Background(), &Order{ID: newOrderID(), CafeID: "cafe-1", TotalCents: 450})
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)

	stale, err := db.PendingOrdersOlderThan(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestHappyPathCompletionCapturesHold(t *testing.T) {
	db, proc, svc := newTestOrderService(t)
	ctx := context.Background()
	o := mustCheckout(t, svc)

	for _, to := range []OrderStatus{StatusAccepted, StatusPreparing, StatusReady, StatusCompleted} {
		updated, err := svc.Transition(ctx, o.ID, to, "")
		require.NoError(t, err)
		require.Equal(t, to, updated.Status)
	}

	require.Equal(t, HoldCaptured, proc.HoldState(o.AuthorizationID))
	auth, _ := db.GetAuthorization(o.AuthorizationID)
	require.Equal(t, HoldCaptured, auth.State)
}

func TestRejectionVoidsHoldAndRecordsReason(t *testing.T) {
	db, proc, svc := newTestOrderService(t)
	o := mustCheckout(t, svc)

	updated, err := svc.Transition(context.Background(), o.ID, StatusRejected, "out of oat milk")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, updated.Status)
	require.Equal(t, "out of oat milk", updated.RejectionReason)
	require.Equal(t, HoldVoided, proc.HoldState(o.AuthorizationID))

	auth, _ := db.GetAuthorization(o.AuthorizationID)
	require.Equal(t, HoldVoided, auth.State)
}

func TestReasonIgnoredOutsideRejection(t *testing.T) {
	_, _, svc := newTestOrderService(t)
	o := mustCheckout(t, svc)

	updated, err := svc.Transition(context.Background(), o.ID, StatusAccepted, "should vanish")
	require.NoError(t, err)
	require.Empty(t, updated.RejectionReason)
}

func TestIllegalTransitions(t *testing.T) {
	_, _, svc := newTestOrderService(t)
	ctx := context.Background()

	// pending can only go to accepted, rejected or expired
	o := mustCheckout(t, svc)
	for _, to := range []OrderStatus{StatusPreparing, StatusReady, StatusCompleted} {
		_, err := svc.Transition(ctx, o.ID, to, "")
		var te *TransitionError
		require.ErrorAs(t, err, &te, "pending -> %s must fail", to)
	}
}

func TestTerminalStatesRefuseAllTransitions(t *testing.T) {
	_, _, svc := newTestOrderService(t)
	ctx := context.Background()

	o := mustCheckout(t, svc)
	_, err := svc.Transition(ctx, o.ID, StatusRejected, "no")
	require.NoError(t, err)

	for _, to := range []OrderStatus{StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusCompleted, StatusExpired, StatusRejected} {
		_, err := svc.Transition(ctx, o.ID, to, "")
		var te *TransitionError
		require.ErrorAs(t, err, &te, "rejected -> %s must fail", to)
	}
}

func TestCaptureFailureDoesNotAdvanceOrder(t *testing.T) {
	db, proc, svc := newTestOrderService(t)
	ctx := context.Background()

	o := mustCheckout(t, svc)
	for _, to := range []OrderStatus{StatusAccepted, StatusPreparing, StatusReady} {
		_, err := svc.Transition(ctx, o.ID, to, "")
		require.NoError(t, err)
	}

	proc.CaptureErr = errors.New("gateway timeout")
	_, err := svc.Transition(ctx, o.ID, StatusCompleted, "")
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)

	// the order stayed where it was and the hold is still open
	current, _ := db.GetOrder(o.ID)
	require.Equal(t, StatusReady, current.Status)
	auth, _ := db.GetAuthorization(o.AuthorizationID)
	require.Equal(t, HoldAuthorized, auth.State)

	// clearing the fault lets the same transition succeed
	proc.CaptureErr = nil
	updated, err := svc.Transition(ctx, o.ID, StatusCompleted, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, HoldCaptured, proc.HoldState(o.AuthorizationID))
}

func TestCompletedOrderNeverVoidsRejectedNeverCaptures(t *testing.T) {
	_, proc, svc := newTestOrderService(t)
	ctx := context.Background()

	done := mustCheckout(t, svc)
	for _, to := range []OrderStatus{StatusAccepted, StatusPreparing, StatusReady, StatusCompleted} {
		_, err := svc.Transition(ctx, done.ID, to, "")
		require.NoError(t, err)
	}
	rejected := mustCheckout(t, svc)
	_, err := svc.Transition(ctx, rejected.ID, StatusRejected, "closed")
	require.NoError(t, err)

	require.Equal(t, HoldCaptured, proc.HoldState(done.AuthorizationID))
	require.Equal(t, HoldVoided, proc.HoldState(rejected.AuthorizationID))
}

func TestTransitionUnknownOrder(t *testing.T) {
	_, _, svc := newTestOrderService(t)
	o, err := svc.Transition(context.Background(), "ord_does_not_exist", StatusAccepted, "")
	require.NoError(t, err)
	require.Nil(t, o)
}
