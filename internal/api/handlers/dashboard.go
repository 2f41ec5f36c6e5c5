package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/statement-ledger/internal/api/middleware"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// DashboardHandler serves read-only views of the ledger.
type DashboardHandler struct {
	ledger     Ledger
	categories domain.CategorySet
	log        zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(ledger Ledger, categories domain.CategorySet, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		ledger:     ledger,
		categories: categories,
		log:        log,
	}
}

// Register adds the dashboard routes to mux.
func (h *DashboardHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard", h.GetDashboard)
	mux.HandleFunc("GET /api/categories", h.ListCategories)
	mux.HandleFunc("GET /health", h.Health)
}

// GetDashboard handles GET /api/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.ledger.Dashboard(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build dashboard")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to load ledger")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, d)
}

// ListCategories handles GET /api/categories
func (h *DashboardHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.categories.Strings()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
