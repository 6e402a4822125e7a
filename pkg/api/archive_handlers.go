package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/archive"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/model"
)

// ArchiveHandlers serves the data export endpoints.
type ArchiveHandlers struct {
	archives *archive.Service
	guard    *guard
}

// NewArchiveHandlers creates archive handlers.
func NewArchiveHandlers(archives *archive.Service, g *guard) *ArchiveHandlers {
	return &ArchiveHandlers{archives: archives, guard: g}
}

// RegisterRoutes registers the archive routes on the router.
func (h *ArchiveHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/archives", h.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/archives/{id:[0-9]+}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/v1/archives/{id:[0-9]+}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/archive_parts/{id:[0-9]+}", h.getPart).Methods(http.MethodGet)
}

type archiveResponse struct {
	Archive *model.Archive      `json:"archive"`
	Parts   []*model.ArchivePart `json:"parts"`
}

// create starts an export and returns the pending archive; the zip is
// assembled by a background worker.
func (h *ArchiveHandlers) create(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	created, errs := h.archives.Create(r.Context(), claims)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteAccepted(w, created)
}

func (h *ArchiveHandlers) get(w http.ResponseWriter, r *http.Request) {
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

	view, errs := h.archives.Get(r.Context(), claims, id)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, archiveResponse{Archive: view.Archive, Parts: view.Parts})
}

func (h *ArchiveHandlers) delete(w http.ResponseWriter, r *http.Request) {
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

	if errs := h.archives.Delete(r.Context(), claims, id); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *ArchiveHandlers) getPart(w http.ResponseWriter, r *http.Request) {
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

	part, errs := h.archives.GetPart(r.Context(), claims, id)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, part)
}
