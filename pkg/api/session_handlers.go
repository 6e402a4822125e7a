package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/session"
)

// SessionHandlers serves the device session endpoints.
type SessionHandlers struct {
	sessions *session.Service
	guard    *guard
}

// NewSessionHandlers creates session handlers.
func NewSessionHandlers(sessions *session.Service, g *guard) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, guard: g}
}

// RegisterRoutes registers the session routes on the router.
func (h *SessionHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/sessions", h.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id:[0-9]+}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id:[0-9]+}", h.delete).Methods(http.MethodDelete)
}

type sessionResponse struct {
	JWT     string         `json:"jwt"`
	Session *model.Session `json:"session"`
}

func (h *SessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength != 0 && !httputil.IsJSON(r) {
		httputil.WriteCode(w, apierr.ContentTypeNotSupported)
		return
	}
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("password") {
		errs.Add(apierr.MissingPassword)
	}
	collectDeviceFields(errs, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	actingDev, errs := h.guard.dev(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	result, errs := h.sessions.Create(r.Context(), actingDev, session.CreateInput{
		Email:      p.Get("email"),
		Password:   p.Get("password"),
		APIKey:     p.Get("api_key"),
		AppID:      p.GetInt64("app_id"),
		DeviceName: p.Get("device_name"),
		DeviceType: p.Get("device_type"),
		DeviceOS:   p.Get("device_os"),
	})
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteCreated(w, sessionResponse{JWT: result.JWT, Session: result.Session})
}

func (h *SessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteCode(w, apierr.MissingID)
		return
	}

	sess, errs := h.sessions.Get(r.Context(), claims, id)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, sess)
}

func (h *SessionHandlers) delete(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteCode(w, apierr.MissingID)
		return
	}

	if errs := h.sessions.Delete(r.Context(), claims, id); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}
