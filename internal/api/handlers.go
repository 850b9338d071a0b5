// Package api exposes the note operations as REST resources.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
)

// MaxBodyBytes bounds the size of a request body.
const MaxBodyBytes = 1 << 20

// Handler wraps the notes service and provides HTTP handlers
type Handler struct {
	notesService *notes.Service
}

// NewHandler creates a new API handler with the given notes service
func NewHandler(notesService *notes.Service) *Handler {
	return &Handler{notesService: notesService}
}

// RegisterRoutes registers all notes API routes on the given mux. Every
// route is wrapped in middleware, which must authenticate the caller.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, middleware func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware(fn))
	}
	route("GET /personas/{personaId}/notes", h.ListNotes)
	route("POST /personas/{personaId}/notes", h.CreateNote)
	route("GET /notes/{id}", h.GetNote)
	route("PATCH /notes/{id}", h.UpdateNote)
	route("DELETE /notes/{id}", h.DeleteNote)
}

// ListNotes handles GET /personas/{personaId}/notes
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	result, err := h.notesService.List(r.Context(), r.PathValue("personaId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateNote handles POST /personas/{personaId}/notes
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	note, err := h.notesService.Create(r.Context(), r.PathValue("personaId"), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /notes/{id}
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.Show(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNote handles PATCH /notes/{id}. Absent fields keep their values.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	note, err := h.notesService.Edit(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/{id}
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notesService.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodePayload(w http.ResponseWriter, r *http.Request) (notes.Payload, error) {
	var payload notes.Payload
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := decoder.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, errs.Wrap(errs.InvalidArgument, "request body too large", err)
		case errors.Is(err, io.EOF):
			return nil, errs.New(errs.InvalidArgument, "request body is required")
		default:
			return nil, errs.Wrap(errs.InvalidArgument, "request body must be a JSON object", err)
		}
	}
	if payload == nil {
		return nil, errs.New(errs.InvalidArgument, "request body must be a JSON object")
	}
	return payload, nil
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code"`
	Field string    `json:"field,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the status for err's code
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	if code == errs.Internal || code == errs.Unavailable {
		obs.From(r.Context()).Error("api_request_failed", "pkg", "api", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, errs.HTTPStatus(code), ErrorResponse{
		Error: errs.MessageOf(err),
		Code:  code,
		Field: errs.FieldOf(err),
	})
}
