package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/catalog"
	"mayroga/internal/core"
	"mayroga/internal/types"
)

// ServiceView is the public listing of one catalog entry.
type ServiceView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// ServicesResponse is the body of GET /services.
type ServicesResponse struct {
	Services []ServiceView `json:"services"`
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	PublishableKey string `json:"publishable_key"`
}

// EntitlementsResponse is the body of GET /entitlements.
type EntitlementsResponse struct {
	Nickname string         `json:"nickname"`
	Credits  map[string]int `json:"credits"`
}

// CatalogHandler serves read-only catalog, client configuration and balance
// lookups.
type CatalogHandler struct {
	registry       catalog.Registry
	store          Entitlements
	publishableKey string
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(registry catalog.Registry, store Entitlements, publishableKey string) *CatalogHandler {
	return &CatalogHandler{registry: registry, store: store, publishableKey: publishableKey}
}

// RegisterRoutes mounts the catalog endpoints.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/services", h.ListServices)
	r.Get("/config", h.GetConfig)
	r.Get("/entitlements", h.GetEntitlements)
}

// ListServices handles GET /services.
func (h *CatalogHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.registry.List()
	resp := ServicesResponse{Services: make([]ServiceView, 0, len(services))}
	for _, s := range services {
		resp.Services = append(resp.Services, ServiceView{
			ID:              s.ID,
			Name:            s.Name,
			PriceCents:      s.PriceCents,
			Currency:        s.Currency,
			DurationSeconds: int64(s.Duration.Seconds()),
		})
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// GetConfig handles GET /config. Only the publishable key is exposed.
func (h *CatalogHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, ConfigResponse{PublishableKey: h.publishableKey})
}

// GetEntitlements handles GET /entitlements?nickname=.
func (h *CatalogHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nickname := firstNonEmpty(q.Get("nickname"), q.Get("apodo"))
	if nickname == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidNickname, "nickname is required", nil))
		return
	}

	credits, err := h.store.Balances(r.Context(), nickname)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if credits == nil {
		credits = map[string]int{}
	}
	core.JSON(w, r, http.StatusOK, EntitlementsResponse{Nickname: nickname, Credits: credits})
}
