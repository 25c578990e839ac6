package domain

import "time"

// Audit event types. The audit_events table is append-only; nothing in the
// service updates or deletes a row once written.
const (
	EventOrderCreated     = "order_created"
	EventAliasAssigned    = "alias_assigned"
	EventStatusChanged    = "status_changed"
	EventPaymentMatched   = "payment_matched"
	EventMatchNeedsReview = "match_needs_review"
	EventUnmatchedPayment = "unmatched_payment"
	EventManualMatch      = "manual_match"
	EventOrderExpired     = "order_expired"
	EventRotationAdvanced = "rotation_advanced"
	EventRotationReset    = "rotation_reset"
)

type AuditEvent struct {
	ID        string         `json:"id"`
	OrderID   *string        `json:"order_id,omitempty"`
	Type      string         `json:"type"`
	Actor     Actor          `json:"actor"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// UnmatchedPayment is a received payment that could not be associated with
// any order, queued for manual resolution.
type UnmatchedPayment struct {
	ID              int64      `json:"id"`
	AmountMinor     *int64     `json:"amount_minor,omitempty"`
	SenderEmail     string     `json:"sender_email,omitempty"`
	SenderName      string     `json:"sender_name,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	TransactionID   string     `json:"transaction_id,omitempty"`
	RawText         string     `json:"raw_text"`
	Reason          string     `json:"reason"`
	Resolved        bool       `json:"resolved"`
	ResolvedOrderID *string    `json:"resolved_order_id,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// InboundNotification is a raw bank alert waiting in the poller's work
// queue. Outcome is set when the poller marks the row processed.
type InboundNotification struct {
	ID          int64      `json:"id"`
	Source      string     `json:"source"`
	RawText     string     `json:"raw_text"`
	Processed   bool       `json:"processed"`
	Outcome     string     `json:"outcome,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
