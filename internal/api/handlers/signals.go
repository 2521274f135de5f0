package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scoutlink/internal/core"
	"scoutlink/internal/types"
)

// SignalServiceInterface defines the proximity contract for the signal
// handler. The estimator satisfies it.
type SignalServiceInterface interface {
	Views() []types.SignalView
	Reading() (types.ProximityReading, error)
	Select(identifier string) error
	Deselect() bool
}

// SignalHandler maps the operator's signal endpoints to the tracker and
// the proximity estimator.
type SignalHandler struct {
	service   SignalServiceInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewSignalHandler creates a SignalHandler with the provided dependencies.
func NewSignalHandler(svc SignalServiceInterface, val *core.Validator, logger *slog.Logger) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHandler{
		service:   svc,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the signal endpoints onto the mux.
func (h *SignalHandler) RegisterRoutes(r chi.Router) {
	r.Get("/signals", h.HandleListSignals)
	r.Get("/signals/selected", h.HandleGetReading)
	r.Put("/signals/selected", h.HandleSelect)
	r.Delete("/signals/selected", h.HandleDeselect)
}

// selectSignalRequest is the body of PUT /signals/selected.
type selectSignalRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

// HandleListSignals handles GET /signals. Returns every tracked signal
// strongest-first with derived quality, bars, and distance.
func (h *SignalHandler) HandleListSignals(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.Views()})
}

// HandleGetReading handles GET /signals/selected. Returns the smoothed
// proximity reading for the selected target, or not-found when nothing
// is selected.
func (h *SignalHandler) HandleGetReading(w http.ResponseWriter, r *http.Request) {
	reading, err := h.service.Reading()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: reading})
}

// HandleSelect handles PUT /signals/selected. Selects a signal for
// ranging and returns the initial reading, which is seeded from the
// target's latest raw sample. Selecting a signal the tracker has not
// seen returns not-found and leaves any prior selection in place.
func (h *SignalHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectSignalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.Select(req.Identifier); err != nil {
		core.Error(w, r, err)
		return
	}

	reading, err := h.service.Reading()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: reading})
}

// HandleDeselect handles DELETE /signals/selected. Clears the selection
// and discards all smoothing state. Returns 204 whether or not a
// selection existed.
func (h *SignalHandler) HandleDeselect(w http.ResponseWriter, r *http.Request) {
	h.service.Deselect()
	w.WriteHeader(http.StatusNoContent)
}
