package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scoutlink/internal/alerts"
	"scoutlink/internal/core"
	"scoutlink/internal/types"
)

// LinkStatusSource reports the transport layer's current state. The
// transport manager satisfies it.
type LinkStatusSource interface {
	Status() types.LinkStatus
}

// MetricsSource reports the sync pipeline counters.
type MetricsSource interface {
	Snapshot() alerts.MetricsSnapshot
}

// LinkHandler serves the device link diagnostics endpoint.
type LinkHandler struct {
	link    LinkStatusSource
	metrics MetricsSource
	logger  *slog.Logger
}

// NewLinkHandler creates a LinkHandler with the provided dependencies.
func NewLinkHandler(link LinkStatusSource, metrics MetricsSource, logger *slog.Logger) *LinkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkHandler{
		link:    link,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes mounts the link endpoint onto the mux.
func (h *LinkHandler) RegisterRoutes(r chi.Router) {
	r.Get("/link", h.HandleGetLink)
}

// linkResponse pairs the transport state with the sync counters so the
// diagnostics panel renders from one call.
type linkResponse struct {
	Link    types.LinkStatus       `json:"link"`
	Metrics alerts.MetricsSnapshot `json:"metrics"`
}

// HandleGetLink handles GET /link. Returns the push link state, the last
// pull outcome, and the synchronization counters.
func (h *LinkHandler) HandleGetLink(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: linkResponse{
		Link:    h.link.Status(),
		Metrics: h.metrics.Snapshot(),
	}})
}
