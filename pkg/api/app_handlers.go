package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/app"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/httputil"
)

// AppHandlers serves the app association endpoints. They live under
// /v1/users because they act on the token holder's own account.
type AppHandlers struct {
	apps  *app.Service
	guard *guard
}

// NewAppHandlers creates app handlers.
func NewAppHandlers(apps *app.Service, g *guard) *AppHandlers {
	return &AppHandlers{apps: apps, guard: g}
}

// RegisterRoutes registers the app routes on the router.
func (h *AppHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/users/remove_app", h.removeApp).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/send_remove_app_email", h.sendRemoveAppEmail).Methods(http.MethodPost)
}

func (h *AppHandlers) removeApp(w http.ResponseWriter, r *http.Request) {
	h.appAction(w, r, h.apps.RemoveApp)
}

func (h *AppHandlers) sendRemoveAppEmail(w http.ResponseWriter, r *http.Request) {
	h.appAction(w, r, h.apps.SendRemoveAppEmail)
}

func (h *AppHandlers) appAction(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, claims *auth.Claims, appID int64) *apierr.List) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasToken(r, p) {
		errs.Add(apierr.MissingToken)
	}
	if !p.Has("id") {
		errs.Add(apierr.MissingID)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := fn(r.Context(), claims, p.GetInt64("id")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}
