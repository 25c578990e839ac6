package domain

import (
	"crypto/rand"
	"time"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusProcessing      OrderStatus = "processing"
	StatusPaid            OrderStatus = "paid"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRefunded        OrderStatus = "refunded"
)

// Actor identifies who triggered a status transition.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
)

// OpenStatuses are the statuses a payment can still be matched against.
func OpenStatuses() []OrderStatus {
	return []OrderStatus{StatusPending, StatusAwaitingPayment}
}

// allowedTransitions encodes the order state machine. Transitions are
// monotonic: there is no path back to an earlier state.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusAwaitingPayment, StatusPaid, StatusCancelled},
	StatusAwaitingPayment: {StatusPaid},
	StatusPaid:            {StatusProcessing, StatusCompleted, StatusRefunded},
	StatusProcessing:      {StatusCompleted},
	StatusCompleted:       {StatusRefunded},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID            string      `json:"id"`
	Reference     string      `json:"reference"`
	AmountMinor   int64       `json:"amount_minor"`
	Status        OrderStatus `json:"status"`
	CustomerEmail string      `json:"customer_email"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	AliasID       *int64      `json:"alias_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// referenceAlphabet excludes characters that are easy to misread when a
// customer copies the token into a transfer message (0/O, 1/I/L).
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOrderReference generates a human-shareable reference token of the form
// ORD-XXXXXX.
func NewOrderReference() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return "ORD-" + string(buf)
}
