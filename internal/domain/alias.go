package domain

import "time"

// Alias is one of the receiving payment addresses orders are rotated across
// to spread transaction volume and bank-imposed daily limits.
type Alias struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Label           string     `json:"label"`
	Active          bool       `json:"active"`
	DailyCapMinor   int64      `json:"daily_cap_minor"`   // 0 means uncapped
	DailyTotalMinor int64      `json:"daily_total_minor"` // reset externally once per rotation day
	Weight          int        `json:"weight"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// HasCapacityFor reports whether assigning an order of the given amount
// would keep the alias within its daily cap.
func (a Alias) HasCapacityFor(amountMinor int64) bool {
	if a.DailyCapMinor <= 0 {
		return true
	}
	return a.DailyTotalMinor+amountMinor <= a.DailyCapMinor
}

// RotationState is the singleton round-robin cursor. Version guards
// concurrent writers: every write must carry the version it read, and the
// store rejects the write if the row has moved on.
type RotationState struct {
	CurrentAliasID *int64 `json:"current_alias_id"`
	OrderCount     int    `json:"order_count"`
	Version        int64  `json:"version"`
}
