package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appmantle/appmantle/pkg/dev"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/model"
)

// DevHandlers serves developer credential registration and rotation.
type DevHandlers struct {
	devs  *dev.Service
	guard *guard
}

// NewDevHandlers creates dev handlers.
func NewDevHandlers(devs *dev.Service, g *guard) *DevHandlers {
	return &DevHandlers{devs: devs, guard: g}
}

// RegisterRoutes registers the dev routes on the router.
func (h *DevHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/devs", h.register).Methods(http.MethodPost)
	r.HandleFunc("/v1/devs/rotate", h.rotate).Methods(http.MethodPost)
}

// credentialsResponse is the only place the secret key crosses the wire;
// it is shown once at registration or rotation and never again.
type credentialsResponse struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	UUID      string `json:"uuid"`
}

func newCredentialsResponse(d *model.Dev) credentialsResponse {
	return credentialsResponse{
		ID:        d.ID,
		UserID:    d.UserID,
		APIKey:    d.APIKey,
		SecretKey: d.SecretKey,
		UUID:      d.UUID,
	}
}

func (h *DevHandlers) register(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	created, errs := h.devs.Register(r.Context(), claims.UserID)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteCreated(w, newCredentialsResponse(created))
}

func (h *DevHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	actingDev, errs := h.guard.dev(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	rotated, errs := h.devs.RotateKeys(r.Context(), actingDev)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, newCredentialsResponse(rotated))
}
