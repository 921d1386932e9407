package main

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusRejected  OrderStatus = "rejected"
	StatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusExpired
}

// HoldState is the state of a payment authorization hold.
type HoldState string

const (
	HoldAuthorized HoldState = "authorized"
	HoldCaptured   HoldState = "captured"
	HoldVoided     HoldState = "voided"
)

// OrderItem is a single line item on an order.
type OrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// Order represents a curbside pickup order.
type Order struct {
	ID               string      `json:"id"`
	CafeID           string      `json:"cafe_id"`
	CustomerName     string      `json:"customer_name"`
	CustomerPhone    string      `json:"customer_phone"`
	Items            []OrderItem `json:"items"`
	TotalCents       int64       `json:"total_cents"`
	CurbsideFeeCents int64       `json:"curbside_fee_cents"`
	Status           OrderStatus `json:"status"`
	RejectionReason  string      `json:"rejection_reason,omitempty"`
	AuthorizationID  string      `json:"authorization_id"`
	CreatedAt        time.Time   `json:"created_at"`
	StatusUpdatedAt  time.Time   `json:"status_updated_at"`
}

// Authorization is a payment hold linked to exactly one order. The ID is
// assigned by the payment processor.
type Authorization struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	State     HoldState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Cafe represents a partner café. Cafés authenticate with an API key that
// is stored hashed; the prefix narrows candidates on lookup.
type Cafe struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Active       bool
	CreatedAt    time.Time
}

// SecurityEvent is an append-only observability record emitted by the
// admission layer.
type SecurityEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Identity  string    `json:"identity"`
	Severity  string    `json:"severity"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
