package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campus-canteen/api/internal/platform/httpx"
	"github.com/campus-canteen/api/internal/services"
)

// CanteenHandlers exposes the student-facing browse endpoints.
type CanteenHandlers struct {
	canteens services.CanteenService
}

// NewCanteenHandlers constructs a new CanteenHandlers instance.
func NewCanteenHandlers(canteens services.CanteenService) *CanteenHandlers {
	return &CanteenHandlers{canteens: canteens}
}

// Routes registers the /canteens endpoints.
func (h *CanteenHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCanteens)
	r.Get("/{canteenID}", h.getCanteen)
	r.Get("/{canteenID}/menu", h.listMenu)
}

func (h *CanteenHandlers) listCanteens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.canteens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("canteen_service_unavailable", "canteen service unavailable", http.StatusServiceUnavailable))
		return
	}

	canteens, err := h.canteens.ListCanteens(ctx)
	if err != nil {
		writeCanteenError(ctx, w, err)
		return
	}

	items := make([]canteenPayload, 0, len(canteens))
	for _, canteen := range canteens {
		items = append(items, buildCanteenPayload(canteen))
	}
	writeJSONResponse(w, http.StatusOK, canteenListResponse{Items: items})
}

func (h *CanteenHandlers) getCanteen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.canteens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("canteen_service_unavailable", "canteen service unavailable", http.StatusServiceUnavailable))
		return
	}

	canteenID := strings.TrimSpace(chi.URLParam(r, "canteenID"))
	if canteenID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "canteen id is required", http.StatusBadRequest))
		return
	}

	canteen, err := h.canteens.GetCanteen(ctx, canteenID)
	if err != nil {
		writeCanteenError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, canteenResponse{Canteen: buildCanteenPayload(canteen)})
}

func (h *CanteenHandlers) listMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.canteens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("canteen_service_unavailable", "canteen service unavailable", http.StatusServiceUnavailable))
		return
	}

	canteenID := strings.TrimSpace(chi.URLParam(r, "canteenID"))
	if canteenID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "canteen id is required", http.StatusBadRequest))
		return
	}

	items, err := h.canteens.ListMenu(ctx, canteenID)
	if err != nil {
		writeCanteenError(ctx, w, err)
		return
	}

	payloads := make([]menuItemPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, menuItemPayload{
			ID:        strings.TrimSpace(item.ID),
			CanteenID: strings.TrimSpace(item.CanteenID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Available: item.Available,
		})
	}
	writeJSONResponse(w, http.StatusOK, menuListResponse{Items: payloads})
}

type canteenListResponse struct {
	Items []canteenPayload `json:"items"`
}

type canteenResponse struct {
	Canteen canteenPayload `json:"canteen"`
}

type canteenPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AvgPrepMinutes  int    `json:"avg_prep_minutes"`
	MaxActiveOrders int    `json:"max_active_orders"`
	IsActive        bool   `json:"is_active"`
	AcceptingOrders bool   `json:"accepting_orders"`
	OpensAt         string `json:"opens_at,omitempty"`
	ClosesAt        string `json:"closes_at,omitempty"`
}

type menuListResponse struct {
	Items []menuItemPayload `json:"items"`
}

type menuItemPayload struct {
	ID        string `json:"id"`
	CanteenID string `json:"canteen_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Available bool   `json:"available"`
}

func buildCanteenPayload(canteen services.Canteen) canteenPayload {
	return canteenPayload{
		ID:              strings.TrimSpace(canteen.ID),
		Name:            strings.TrimSpace(canteen.Name),
		AvgPrepMinutes:  canteen.AvgPrepMinutes,
		MaxActiveOrders: canteen.MaxActiveOrders,
		IsActive:        canteen.IsActive,
		AcceptingOrders: canteen.AcceptingOrders,
		OpensAt:         strings.TrimSpace(canteen.OpensAt),
		ClosesAt:        strings.TrimSpace(canteen.ClosesAt),
	}
}

func writeCanteenError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCanteenInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCanteenMissing):
		httpx.WriteError(ctx, w, httpx.NewError("canteen_not_found", "canteen not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("canteen_error", "failed to process canteen request", http.StatusInternalServerError))
	}
}
