package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/export"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/threadsync"
)

const maxJSONBytes = 1 << 20

// Handler holds thread and note route handlers.
type Handler struct {
	svc *threadsync.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *threadsync.Service) *Handler {
	return &Handler{svc: svc}
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid JSON body: %w", apperr.ErrInvalidInput)
}

// ListThreads handles GET /api/threads.
//
//	@Summary		List threads, most recently updated first
//	@Tags			threads
//	@Produce		json
//	@Success		200	{object}	ThreadListResponse
//	@Security		BearerAuth
//	@Router			/threads [get]
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.svc.ListThreads(r.Context())
	if err != nil {
		writeError(w, "list threads", err)
		return
	}
	writeJSON(w, http.StatusOK, ThreadListResponse{Threads: threads})
}

// CreateThread handles POST /api/threads.
//
//	@Summary		Create a thread, optionally with a first note
//	@Tags			threads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateThreadRequest	false	"Initial note"
//	@Success		201		{object}	models.Thread
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads [post]
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "create thread", err)
		return
	}

	var (
		id  string
		err error
	)
	if req.Content == "" && req.Type == "" {
		id, err = h.svc.CreateEmptyThread(r.Context())
	} else {
		id, err = h.svc.CreateThread(r.Context(), models.NoteInput{Content: req.Content, Type: req.Type})
	}
	if err != nil {
		writeError(w, "create thread", err)
		return
	}

	thread, err := h.svc.GetThread(r.Context(), id)
	if err != nil {
		writeError(w, "get thread", err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// GetThread handles GET /api/threads/{id}.
//
//	@Summary		Get a single thread
//	@Tags			threads
//	@Produce		json
//	@Param			id	path		string	true	"Thread id"
//	@Success		200	{object}	models.Thread
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id} [get]
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.svc.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get thread", err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// ListNotes handles GET /api/threads/{id}/notes.
//
//	@Summary		List the notes of a thread in creation order
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Thread id"
//	@Success		200	{object}	NoteListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.ThreadNotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// AddNote handles POST /api/threads/{id}/notes.
//
//	@Summary		Append a note to a thread
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Thread id"
//	@Param			body	body		AddNoteRequest	true	"Note to add"
//	@Success		201		{object}	AddNoteResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/notes [post]
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "add note", err)
		return
	}
	threadID := chi.URLParam(r, "id")
	noteID, err := h.svc.AddNoteToThread(r.Context(), threadID, models.NoteInput{Content: req.Content, Type: req.Type})
	if err != nil {
		writeError(w, "add note", err)
		return
	}
	writeJSON(w, http.StatusCreated, AddNoteResponse{ID: noteID, ThreadID: threadID})
}

// Enrich handles POST /api/threads/{id}/enrich.
//
//	@Summary		Regenerate thread metadata in the background
//	@Tags			threads
//	@Param			id	path	string	true	"Thread id"
//	@Success		202	"Enrichment started"
//	@Failure		404	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/enrich [post]
func (h *Handler) Enrich(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetThread(r.Context(), id); err != nil {
		writeError(w, "enrich thread", err)
		return
	}
	if !h.svc.EnrichmentEnabled() {
		writeError(w, "enrich thread", fmt.Errorf("enrichment disabled: %w", apperr.ErrUnavailable))
		return
	}
	h.svc.TriggerEnrichment(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Export handles GET /api/threads/{id}/export.
//
//	@Summary		Export a thread as Markdown or HTML
//	@Tags			threads
//	@Produce		text/markdown,text/html
//	@Param			id		path	string	true	"Thread id"
//	@Param			format	query	string	false	"Output format"	Enums(md, html)
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		writeJSON(w, http.StatusBadRequest, errorBody("format must be md or html"))
		return
	}

	id := chi.URLParam(r, "id")
	thread, err := h.svc.GetThread(r.Context(), id)
	if err != nil {
		writeError(w, "export thread", err)
		return
	}
	notes, err := h.svc.ThreadNotes(r.Context(), id)
	if err != nil {
		writeError(w, "export thread", err)
		return
	}

	var (
		out         []byte
		contentType string
	)
	if format == "html" {
		out, err = export.HTML(thread, notes)
		contentType = "text/html; charset=utf-8"
	} else {
		out, err = export.Markdown(thread, notes)
		contentType = "text/markdown; charset=utf-8"
	}
	if err != nil {
		writeError(w, "export thread", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
