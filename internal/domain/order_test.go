package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{StatusPending, StatusAwaitingPayment},
		{StatusPending, StatusPaid},
		{StatusPending, StatusCancelled},
		{StatusAwaitingPayment, StatusPaid},
		{StatusPaid, StatusProcessing},
		{StatusPaid, StatusCompleted},
		{StatusPaid, StatusRefunded},
		{StatusProcessing, StatusCompleted},
		{StatusCompleted, StatusRefunded},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to OrderStatus }{
		{StatusPaid, StatusPending},          // no path back
		{StatusAwaitingPayment, StatusCancelled},
		{StatusCancelled, StatusPending},     // terminal
		{StatusRefunded, StatusPaid},         // terminal
		{StatusCompleted, StatusProcessing},
		{StatusPending, StatusCompleted},     // no skipping paid
	}
	for _, tc := range denied {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOpenStatuses(t *testing.T) {
	require.Equal(t, []OrderStatus{StatusPending, StatusAwaitingPayment}, OpenStatuses())
}

func TestNewOrderReference(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ref := NewOrderReference()
		require.Len(t, ref, 10)
		require.True(t, strings.HasPrefix(ref, "ORD-"))
		for _, c := range ref[4:] {
			require.Contains(t, referenceAlphabet, string(c),
				"reference must avoid ambiguous characters: %s", ref)
		}
		seen[ref] = true
	}
	// 31^6 combinations; 200 draws colliding would point at a broken source.
	require.Len(t, seen, 200)
}
