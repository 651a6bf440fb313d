package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/threadnote/internal/recorder"
	"github.com/starford/threadnote/internal/threadsync"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// rec may be nil when transcription is not configured; recording routes then
// answer 503.
func NewRouter(svc *threadsync.Service, rec *recorder.Service, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc)
	rh := NewRecordingHandler(rec)

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(AuthMiddleware(authEnabled, token))

	// Threads and notes.
	r.Get("/threads", h.ListThreads)
	r.Post("/threads", h.CreateThread)
	r.Get("/threads/{id}", h.GetThread)
	r.Get("/threads/{id}/notes", h.ListNotes)
	r.Post("/threads/{id}/notes", h.AddNote)
	r.Post("/threads/{id}/enrich", h.Enrich)
	r.Get("/threads/{id}/export", h.Export)

	// Live queries (SSE).
	r.Get("/events", h.ThreadEvents)
	r.Get("/threads/{id}/events", h.NoteEvents)

	// Recordings.
	r.Get("/recordings", rh.ListPending)
	r.Post("/recordings", rh.Upload)
	r.Post("/recordings/{name}/retry", rh.Retry)
	r.Get("/recordings/stream", rh.Stream)

	return r
}
