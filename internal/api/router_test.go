package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/matching"
	"github.com/maplepay/matcher/internal/metrics"
	"github.com/maplepay/matcher/internal/notify"
	"github.com/maplepay/matcher/internal/poller"
	"github.com/maplepay/matcher/internal/recon"
	"github.com/maplepay/matcher/internal/repository"
	"github.com/maplepay/matcher/internal/rotation"
)

type testApp struct {
	router http.Handler
	poller *poller.Poller
}

// newTestApp wires the full service against a throwaway database, the same
// way process startup does.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := repository.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop()
	orderRepo := repository.NewOrderRepo(db)
	aliasRepo := repository.NewAliasRepo(db)
	eventRepo := repository.NewEventRepo(db)
	unmatchedRepo := repository.NewUnmatchedRepo(db)
	notifRepo := repository.NewNotificationRepo(db)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	engine := matching.NewEngine(orderRepo, matching.Config{
		TolerancePct:  0.01,
		RecencyWindow: 30 * time.Minute,
	}, log)

	processor := recon.NewProcessor(engine, orderRepo, eventRepo, unmatchedRepo,
		notify.NewLogSender(log), m, recon.Config{
			AutoConfirmMin: 70,
			ReviewMin:      50,
			PendingTTL:     24 * time.Hour,
		}, log)

	selector := rotation.NewSelector(aliasRepo, rotation.Config{
		OrdersPerRotation: 20,
		EnforceDailyCap:   true,
		MaxWriteAttempts:  5,
		DefaultEmail:      "fallback@pay.example",
		DefaultLabel:      "Fallback",
	}, log)

	p := poller.New(notifRepo, processor, poller.Config{
		Interval:  time.Hour,
		BatchSize: 50,
	}, log)

	router := NewRouter(Deps{
		Orders:       orderRepo,
		Aliases:      aliasRepo,
		Events:       eventRepo,
		Unmatched:    unmatchedRepo,
		Notification: notifRepo,
		Selector:     selector,
		Processor:    processor,
		Metrics:      m,
		Registry:     registry,
		Log:          log,
		PendingTTL:   24 * time.Hour,
	})

	return &testApp{router: router, poller: p}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/v1/aliases", map[string]any{
		"email": "pay1@maplepay.example", "label": "Main",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Create an order and read its payment instructions.
	rec = app.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"amount_minor":   45000,
		"customer_email": "jane@example.com",
		"customer_name":  "Jane Doe",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)

	instructions := created["payment_instructions"].(map[string]any)
	require.Equal(t, "pay1@maplepay.example", instructions["send_to_email"])
	reference := instructions["message"].(string)
	require.Regexp(t, `^ORD-[A-Z2-9]{6}$`, reference)
	require.Equal(t, float64(19), instructions["remaining_before_rotation"])

	// Fetch it back with its audit trail.
	rec = app.do(t, http.MethodGet, "/api/v1/orders/"+reference, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode(t, rec)
	order := fetched["order"].(map[string]any)
	require.Equal(t, "pending", order["status"])
	events := fetched["events"].([]any)
	require.Len(t, events, 2) // order_created, alias_assigned

	// Customer signals the transfer was sent.
	rec = app.do(t, http.MethodPost, "/api/v1/orders/"+reference+"/payment-sent", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The signal is not repeatable once the order left pending.
	rec = app.do(t, http.MethodPost, "/api/v1/orders/"+reference+"/payment-sent", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// The bank notification arrives and the poll cycle reconciles it.
	raw := fmt.Sprintf(
		"INTERAC e-Transfer: Jane Doe has sent you $450.00.\nMessage: %s", reference)
	rec = app.do(t, http.MethodPost, "/api/v1/notifications", map[string]any{
		"raw_text": raw, "source": "email",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	app.poller.RunCycle(context.Background())

	rec = app.do(t, http.MethodGet, "/api/v1/orders/"+reference, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched = decode(t, rec)
	order = fetched["order"].(map[string]any)
	require.Equal(t, "paid", order["status"])
	require.NotEmpty(t, order["paid_at"])

	rec = app.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode(t, rec)
	stats := dash["orders"].(map[string]any)
	require.Equal(t, float64(1), stats["paid"])
	require.Equal(t, float64(0), dash["unmatched_count"])
}

func TestCreateOrder_Validation(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"amount_minor": 0, "customer_email": "jane@example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"amount_minor": 1000, "customer_email": "not-an-email",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_FallsBackWithoutAliases(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"amount_minor": 1000, "customer_email": "jane@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	instructions := created["payment_instructions"].(map[string]any)
	require.Equal(t, "fallback@pay.example", instructions["send_to_email"])
}

func TestGetOrder_NotFound(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/api/v1/orders/ORD-MISSING", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmatchedFlowOverHTTP(t *testing.T) {
	app := newTestApp(t)

	// A transfer with no matching order lands in the unmatched queue.
	rec := app.do(t, http.MethodPost, "/api/v1/notifications", map[string]any{
		"raw_text": "INTERAC e-Transfer: Wei Zhang has sent you $99.99.",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	app.poller.RunCycle(context.Background())

	rec = app.do(t, http.MethodGet, "/api/v1/payments/unmatched", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode(t, rec)
	require.Equal(t, float64(1), listed["total"])
	unmatchedID := listed["unmatched"].([]any)[0].(map[string]any)["id"].(float64)

	// An operator creates the missing order and resolves manually.
	rec = app.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"amount_minor": 9999, "customer_email": "wei@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	reference := created["payment_instructions"].(map[string]any)["message"].(string)

	path := fmt.Sprintf("/api/v1/payments/unmatched/%d/match", int64(unmatchedID))
	rec = app.do(t, http.MethodPost, path, map[string]any{"order_reference": reference})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/orders/"+reference, nil)
	order := decode(t, rec)["order"].(map[string]any)
	require.Equal(t, "paid", order["status"])

	// The queue is drained; resolving again conflicts.
	rec = app.do(t, http.MethodGet, "/api/v1/payments/unmatched", nil)
	require.Equal(t, float64(0), decode(t, rec)["total"])

	rec = app.do(t, http.MethodPost, path, map[string]any{"order_reference": reference})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestManualMatch_UnknownOrderReturns404(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/v1/notifications", map[string]any{
		"raw_text": "INTERAC e-Transfer: someone has sent you money. Amount: $10.00",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	app.poller.RunCycle(context.Background())

	rec = app.do(t, http.MethodPost, "/api/v1/payments/unmatched/1/match",
		map[string]any{"order_reference": "ORD-MISSING"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAliasAdministration(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/v1/aliases", map[string]any{
		"email": "a@pay.example", "label": "A", "daily_cap_minor": 100000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	alias := decode(t, rec)["alias"].(map[string]any)
	id := int64(alias["id"].(float64))

	rec = app.do(t, http.MethodPost, fmt.Sprintf("/api/v1/aliases/%d/deactivate", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/aliases", nil)
	aliases := decode(t, rec)["aliases"].([]any)
	require.Len(t, aliases, 1)
	require.False(t, aliases[0].(map[string]any)["active"].(bool))

	rec = app.do(t, http.MethodPost, "/api/v1/aliases/9999/activate", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/v1/aliases/reset-daily-totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRotationAdministration(t *testing.T) {
	app := newTestApp(t)

	for _, email := range []string{"a@pay.example", "b@pay.example"} {
		rec := app.do(t, http.MethodPost, "/api/v1/aliases", map[string]any{
			"email": email, "label": email,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := app.do(t, http.MethodGet, "/api/v1/rotation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode(t, rec)["rotation"].(map[string]any)
	require.Nil(t, state["current_alias_id"])

	rec = app.do(t, http.MethodPost, "/api/v1/rotation/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/rotation", nil)
	state = decode(t, rec)["rotation"].(map[string]any)
	require.Equal(t, float64(1), state["current_alias_id"],
		"advance from an empty cursor lands on the ring head")

	rec = app.do(t, http.MethodPost, "/api/v1/rotation/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/rotation", nil)
	state = decode(t, rec)["rotation"].(map[string]any)
	require.Nil(t, state["current_alias_id"])
}
