// Package handlers contains the HTTP handler implementations for the
// operator API. Handlers translate between the wire and the domain
// services; they hold no state of their own and every response goes
// through the core envelope helpers.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scoutlink/internal/core"
	"scoutlink/internal/types"
)

// AlertServiceInterface defines the ledger contract for the alert handler.
// The event reconciler satisfies it; the interface is defined locally so
// the handler depends only on what it calls.
type AlertServiceInterface interface {
	History() types.AlertHistory
	Acknowledge(ctx context.Context, id string) error
	DismissAll(ctx context.Context) int
	Clear(ctx context.Context) int
}

// AlertHandler maps the operator's alert endpoints to the reconciler.
// Mutations apply locally and return the updated ledger view immediately;
// device forwarding happens behind the reconciler.
type AlertHandler struct {
	service   AlertServiceInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewAlertHandler creates an AlertHandler with the provided dependencies.
func NewAlertHandler(svc AlertServiceInterface, val *core.Validator, logger *slog.Logger) *AlertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertHandler{
		service:   svc,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the alert endpoints onto the mux.
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Get("/alerts", h.HandleGetHistory)
	r.Post("/alerts/{id}/ack", h.HandleAcknowledge)
	r.Post("/alerts/ack-all", h.HandleDismissAll)
	r.Delete("/alerts", h.HandleClear)
}

// dismissAllResponse reports a bulk acknowledgement: how many events
// changed and the ledger view after the change.
type dismissAllResponse struct {
	Dismissed int                `json:"dismissed"`
	History   types.AlertHistory `json:"history"`
}

// clearResponse reports a history wipe.
type clearResponse struct {
	Removed int                `json:"removed"`
	History types.AlertHistory `json:"history"`
}

// HandleGetHistory handles GET /alerts. Returns the full event history
// most-recent-first with the store revision and active count.
func (h *AlertHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.History()})
}

// HandleAcknowledge handles POST /alerts/{id}/ack. Acknowledges a single
// event; unknown IDs return not-found. The response carries the ledger
// view after the local apply, before the device forward settles.
func (h *AlertHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"event ID is required",
			nil,
		))
		return
	}

	if err := h.service.Acknowledge(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.History()})
}

// HandleDismissAll handles POST /alerts/ack-all. Acknowledges every
// active event; idempotent when nothing is active.
func (h *AlertHandler) HandleDismissAll(w http.ResponseWriter, r *http.Request) {
	dismissed := h.service.DismissAll(r.Context())

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: dismissAllResponse{
		Dismissed: dismissed,
		History:   h.service.History(),
	}})
}

// HandleClear handles DELETE /alerts. Empties the ledger; idempotent
// when it is already empty.
func (h *AlertHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	removed := h.service.Clear(r.Context())

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: clearResponse{
		Removed: removed,
		History: h.service.History(),
	}})
}
