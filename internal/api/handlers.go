package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/recon"
	"github.com/maplepay/matcher/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	d Deps
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	// Too late to change the response code if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- CreateOrder ---

type createOrderRequest struct {
	AmountMinor   int64  `json:"amount_minor"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AmountMinor <= 0 {
		writeError(w, http.StatusBadRequest, "amount_minor must be positive")
		return
	}
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if req.CustomerEmail == "" || !strings.Contains(req.CustomerEmail, "@") {
		writeError(w, http.StatusBadRequest, "customer_email is required")
		return
	}

	ctx := r.Context()

	// Consult the rotation selector exactly once per created order.
	assignment, err := h.d.Selector.SelectForNewOrder(ctx, req.AmountMinor)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "alias selection failed: "+err.Error())
		return
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.NewString(),
		Reference:     domain.NewOrderReference(),
		AmountMinor:   req.AmountMinor,
		Status:        domain.StatusPending,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		AliasID:       assignment.AliasID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(h.d.PendingTTL),
	}

	if err := h.d.Orders.Insert(ctx, order); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.d.Metrics.OrdersCreated.Inc()

	h.appendEvent(ctx, domain.AuditEvent{
		OrderID: &order.ID,
		Type:    domain.EventOrderCreated,
		Actor:   domain.ActorCustomer,
		Data: map[string]any{
			"reference":    order.Reference,
			"amount_minor": order.AmountMinor,
		},
	})
	h.appendEvent(ctx, domain.AuditEvent{
		OrderID: &order.ID,
		Type:    domain.EventAliasAssigned,
		Actor:   domain.ActorSystem,
		Data: map[string]any{
			"alias_email":               assignment.Email,
			"alias_label":               assignment.Label,
			"fallback":                  assignment.Fallback,
			"remaining_before_rotation": assignment.RemainingBeforeRotation,
		},
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"order": order,
		"payment_instructions": map[string]any{
			"send_to_email":             assignment.Email,
			"account_label":             assignment.Label,
			"message":                   order.Reference,
			"amount_minor":              order.AmountMinor,
			"remaining_before_rotation": assignment.RemainingBeforeRotation,
		},
	})
}

// --- ListOrders ---

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.OrderFilter{
		Status:        q.Get("status"),
		CustomerEmail: q.Get("customer_email"),
		Page:          parseIntDefault(q.Get("page"), 1),
		Limit:         parseIntDefault(q.Get("limit"), 50),
	}

	orders, total, err := h.d.Orders.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

// --- GetOrder ---

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	order, err := h.d.Orders.GetByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, err := h.d.Events.ListByOrder(r.Context(), order.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":  order,
		"events": events,
	})
}

// --- PaymentSent ---

// PaymentSent records the customer's "I sent the money" signal. It is
// informational: the order moves to awaiting_payment, which keeps it out of
// the expiry sweep but does not imply funds were received.
func (h *Handlers) PaymentSent(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	ctx := r.Context()

	order, err := h.d.Orders.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ok, err := h.d.Orders.TransitionStatus(ctx, order.ID,
		[]domain.OrderStatus{domain.StatusPending}, domain.StatusAwaitingPayment, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "order is not pending")
		return
	}

	h.appendEvent(ctx, domain.AuditEvent{
		OrderID: &order.ID,
		Type:    domain.EventStatusChanged,
		Actor:   domain.ActorCustomer,
		Data: map[string]any{
			"from_status": string(domain.StatusPending),
			"to_status":   string(domain.StatusAwaitingPayment),
		},
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"reference": reference,
		"status":    string(domain.StatusAwaitingPayment),
	})
}

// --- EnqueueNotification ---

type enqueueNotificationRequest struct {
	RawText string `json:"raw_text"`
	Source  string `json:"source"`
}

func (h *Handlers) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req enqueueNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.RawText) == "" {
		writeError(w, http.StatusBadRequest, "raw_text is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	id, err := h.d.Notification.Enqueue(r.Context(), req.Source, req.RawText)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "queued": true})
}

// --- ListUnmatched ---

func (h *Handlers) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	payments, err := h.d.Unmatched.List(r.Context(), includeResolved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unmatched": payments,
		"total":     len(payments),
	})
}

// --- ManualMatch ---

type manualMatchRequest struct {
	OrderReference string `json:"order_reference"`
}

func (h *Handlers) ManualMatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid unmatched payment id")
		return
	}

	var req manualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.OrderReference == "" {
		writeError(w, http.StatusBadRequest, "order_reference is required")
		return
	}

	order, err := h.d.Processor.ManualMatch(r.Context(), id,
		strings.ToUpper(strings.TrimSpace(req.OrderReference)), domain.ActorAdmin)
	if err != nil {
		switch {
		case errors.Is(err, recon.ErrOrderNotOpen):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order": order, "matched": true})
}

// --- Aliases ---

func (h *Handlers) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.d.Aliases.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aliases": aliases})
}

type createAliasRequest struct {
	Email         string `json:"email"`
	Label         string `json:"label"`
	DailyCapMinor int64  `json:"daily_cap_minor"`
	Weight        int    `json:"weight"`
}

func (h *Handlers) CreateAlias(w http.ResponseWriter, r *http.Request) {
	var req createAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Weight <= 0 {
		req.Weight = 1
	}

	alias := &domain.Alias{
		Email:         strings.ToLower(req.Email),
		Label:         req.Label,
		Active:        true,
		DailyCapMinor: req.DailyCapMinor,
		Weight:        req.Weight,
	}
	id, err := h.d.Aliases.Insert(r.Context(), alias)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	alias.ID = id
	writeJSON(w, http.StatusCreated, map[string]any{"alias": alias})
}

func (h *Handlers) SetAliasActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid alias id")
			return
		}
		if err := h.d.Aliases.SetActive(r.Context(), id, active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "alias not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
	}
}

func (h *Handlers) ResetDailyTotals(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Aliases.ResetDailyTotals(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Rotation ---

func (h *Handlers) GetRotation(w http.ResponseWriter, r *http.Request) {
	state, err := h.d.Selector.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotation": state})
}

func (h *Handlers) AdvanceRotation(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Selector.AdvanceRotation(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.d.Metrics.RotationAdvances.Inc()
	h.appendEvent(r.Context(), domain.AuditEvent{
		Type:  domain.EventRotationAdvanced,
		Actor: domain.ActorAdmin,
		Data:  map[string]any{"forced": true},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "advanced"})
}

func (h *Handlers) ResetRotation(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Selector.ResetRotation(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.appendEvent(r.Context(), domain.AuditEvent{
		Type:  domain.EventRotationReset,
		Actor: domain.ActorAdmin,
		Data:  map[string]any{},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Dashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.d.Orders.GetDashboardStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	unmatched, err := h.d.Unmatched.List(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	aliases, err := h.d.Aliases.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type aliasEntry struct {
		ID              int64  `json:"id"`
		Email           string `json:"email"`
		Active          bool   `json:"active"`
		DailyCapMinor   int64  `json:"daily_cap_minor"`
		DailyTotalMinor int64  `json:"daily_total_minor"`
	}
	byAlias := make([]aliasEntry, 0, len(aliases))
	for _, a := range aliases {
		byAlias = append(byAlias, aliasEntry{
			ID:              a.ID,
			Email:           a.Email,
			Active:          a.Active,
			DailyCapMinor:   a.DailyCapMinor,
			DailyTotalMinor: a.DailyTotalMinor,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders":          stats,
		"unmatched_count": len(unmatched),
		"aliases":         byAlias,
	})
}

// --- helpers ---

func (h *Handlers) appendEvent(ctx context.Context, e domain.AuditEvent) {
	if err := h.d.Events.Append(ctx, e); err != nil {
		h.d.Log.Error("audit event append failed",
			zap.String("type", e.Type), zap.Error(err))
	}
}
