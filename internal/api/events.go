package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/threadnote/internal/models"
)

// keepaliveInterval spaces SSE comment lines that keep idle proxies from
// closing the stream.
var keepaliveInterval = 30 * time.Second

// snapshotStream holds at most one pending snapshot; a newer one replaces
// an unsent older one.
type snapshotStream struct {
	ch chan []byte
}

func newSnapshotStream() *snapshotStream {
	return &snapshotStream{ch: make(chan []byte, 1)}
}

// push is only called from one subscription goroutine.
func (s *snapshotStream) push(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("sse: encode snapshot", slog.String("error", err.Error()))
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- payload
}

// serveSSE writes each snapshot as an SSE event named event until the
// client goes away.
func serveSSE(w http.ResponseWriter, r *http.Request, event string, snaps *snapshotStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case payload := <-snaps.ch:
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
			flusher.Flush()
		}
	}
}

// ThreadEvents handles GET /api/events. Every event carries the full thread
// list, most recently updated first.
//
//	@Summary		Live thread list (Server-Sent Events)
//	@Tags			events
//	@Produce		text/event-stream
//	@Success		200
//	@Security		BearerAuth
//	@Router			/events [get]
func (h *Handler) ThreadEvents(w http.ResponseWriter, r *http.Request) {
	snaps := newSnapshotStream()
	sub := h.svc.SubscribeToThreads(r.Context(), func(threads []models.Thread) {
		snaps.push(ThreadListResponse{Threads: threads})
	})
	defer sub.Unsubscribe()

	serveSSE(w, r, "threads", snaps)
}

// NoteEvents handles GET /api/threads/{id}/events. Every event carries all
// notes of the thread in creation order.
//
//	@Summary		Live notes of a thread (Server-Sent Events)
//	@Tags			events
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"Thread id"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/events [get]
func (h *Handler) NoteEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetThread(r.Context(), id); err != nil {
		writeError(w, "note events", err)
		return
	}

	snaps := newSnapshotStream()
	sub := h.svc.SubscribeToThreadNotes(r.Context(), id, func(notes []models.Note) {
		snaps.push(NoteListResponse{Notes: notes})
	})
	defer sub.Unsubscribe()

	serveSSE(w, r, "notes", snaps)
}
