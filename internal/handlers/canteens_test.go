package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/campus-canteen/api/internal/services"
)

type stubCanteenService struct {
	listFn     func(context.Context) ([]services.Canteen, error)
	getFn      func(context.Context, string) (services.Canteen, error)
	listMenuFn func(context.Context, string) ([]services.MenuItem, error)
}

func (s *stubCanteenService) ListCanteens(ctx context.Context) ([]services.Canteen, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubCanteenService) GetCanteen(ctx context.Context, canteenID string) (services.Canteen, error) {
	if s.getFn != nil {
		return s.getFn(ctx, canteenID)
	}
	return services.Canteen{}, errors.New("not implemented")
}

func (s *stubCanteenService) ListMenu(ctx context.Context, canteenID string) ([]services.MenuItem, error) {
	if s.listMenuFn != nil {
		return s.listMenuFn(ctx, canteenID)
	}
	return nil, nil
}

func newCanteenRouter(service services.CanteenService) http.Handler {
	handler := NewCanteenHandlers(service)
	router := chi.NewRouter()
	router.Route("/canteens", handler.Routes)
	return router
}

func TestListCanteensIsPublic(t *testing.T) {
	service := &stubCanteenService{
		listFn: func(context.Context) ([]services.Canteen, error) {
			return []services.Canteen{
				{
					ID:              "cnt_main",
					Name:            "Main Canteen",
					AvgPrepMinutes:  5,
					MaxActiveOrders: 10,
					IsActive:        true,
					AcceptingOrders: true,
					OpensAt:         "08:00",
					ClosesAt:        "20:00",
				},
			}, nil
		},
	}
	router := newCanteenRouter(service)

	// No actor header: browsing is open to everyone.
	req := httptest.NewRequest(http.MethodGet, "/canteens/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp canteenListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "cnt_main" {
		t.Fatalf("unexpected canteens %+v", resp.Items)
	}
	if resp.Items[0].OpensAt != "08:00" || resp.Items[0].ClosesAt != "20:00" {
		t.Fatalf("unexpected opening hours %+v", resp.Items[0])
	}
}

func TestGetCanteenNotFound(t *testing.T) {
	service := &stubCanteenService{
		getFn: func(context.Context, string) (services.Canteen, error) {
			return services.Canteen{}, services.ErrCanteenMissing
		},
	}
	router := newCanteenRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/canteens/cnt_ghost", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["error"] != "canteen_not_found" {
		t.Fatalf("expected canteen_not_found, got %v", payload["error"])
	}
}

func TestListMenuReturnsPricedItems(t *testing.T) {
	service := &stubCanteenService{
		listMenuFn: func(_ context.Context, canteenID string) ([]services.MenuItem, error) {
			if canteenID != "cnt_main" {
				t.Errorf("unexpected canteen id: %s", canteenID)
			}
			return []services.MenuItem{
				{ID: "itm_tea", CanteenID: "cnt_main", Name: "Masala Tea", UnitPrice: 2000, Available: true},
				{ID: "itm_samosa", CanteenID: "cnt_main", Name: "Samosa", UnitPrice: 2000, Available: false},
			}, nil
		},
	}
	router := newCanteenRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/canteens/cnt_main/menu", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp menuListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 menu items, got %d", len(resp.Items))
	}
	if resp.Items[0].UnitPrice != 2000 || resp.Items[1].Available {
		t.Fatalf("unexpected menu payload %+v", resp.Items)
	}
}
