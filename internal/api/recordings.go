package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/recorder"
)

const (
	maxUploadBytes = 50 << 20 // 50 MB
	finishTimeout  = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var errTranscriptionDisabled = fmt.Errorf("transcription not configured: %w", apperr.ErrUnavailable)

// RecordingHandler accepts audio and turns it into notes.
type RecordingHandler struct {
	rec *recorder.Service
}

// NewRecordingHandler creates a handler. rec may be nil.
func NewRecordingHandler(rec *recorder.Service) *RecordingHandler {
	return &RecordingHandler{rec: rec}
}

// ListPending handles GET /api/recordings.
//
//	@Summary		List recordings awaiting a successful transcription
//	@Tags			recordings
//	@Produce		json
//	@Success		200	{object}	RecordingListResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recordings [get]
func (h *RecordingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		writeError(w, "list recordings", errTranscriptionDisabled)
		return
	}
	recs, err := h.rec.Pending()
	if err != nil {
		writeError(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, RecordingListResponse{Recordings: recs})
}

// Upload handles POST /api/recordings (multipart/form-data, field "audio").
//
//	@Summary		Transcribe a recording into a note
//	@Tags			recordings
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			audio		formData	file	true	"Recorded audio"
//	@Param			thread_id	formData	string	false	"Thread to append to; empty starts a new thread"
//	@Success		201			{object}	RecordingResult
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Failure		503			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recordings [post]
func (h *RecordingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		writeError(w, "upload recording", errTranscriptionDisabled)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("no audio file provided"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read audio"))
		return
	}

	res, err := h.rec.Submit(r.Context(), r.FormValue("thread_id"), audio)
	if err != nil {
		writeError(w, "upload recording", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Retry handles POST /api/recordings/{name}/retry.
//
//	@Summary		Retry transcription of a stored recording
//	@Tags			recordings
//	@Produce		json
//	@Param			name		path	string	true	"Recording name"
//	@Param			thread_id	query	string	false	"Thread to append to; empty starts a new thread"
//	@Success		201			{object}	RecordingResult
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recordings/{name}/retry [post]
func (h *RecordingHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		writeError(w, "retry recording", errTranscriptionDisabled)
		return
	}
	res, err := h.rec.Retry(r.Context(), chi.URLParam(r, "name"), r.URL.Query().Get("thread_id"))
	if err != nil {
		writeError(w, "retry recording", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Stream handles GET /api/recordings/stream (WebSocket).
//
// Binary frames carry audio chunks; the server answers with "transcript"
// frames holding the latest event and the running transcript. A
// {"type":"stop"} text frame ends the recording: the finalized transcript is
// saved and reported in a "saved" frame, or an "error" frame
// explains why nothing was saved.
//
//	@Summary		Live recording with streaming transcription
//	@Tags			recordings
//	@Param			thread_id	query	string	false	"Thread to append to; empty starts a new thread"
//	@Success		101
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recordings/stream [get]
func (h *RecordingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		writeError(w, "stream recording", errTranscriptionDisabled)
		return
	}
	sess, err := h.rec.OpenSession(r.Context(), r.URL.Query().Get("thread_id"))
	if err != nil {
		writeError(w, "stream recording", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg streamMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("stream: write failed", slog.String("error", err.Error()))
		}
	}

	// Unblock the read loop when the request ends, including server shutdown.
	stopWatch := context.AfterFunc(r.Context(), func() { _ = conn.Close() })
	defer stopWatch()

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for up := range sess.Events() {
			send(streamMessage{
				Type:        "transcript",
				Text:        up.Text,
				IsFinal:     up.IsFinal,
				SpeechFinal: up.SpeechFinal,
				Transcript:  up.Transcript,
			})
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			sess.Close()
			<-forwarded
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if err := sess.Send(data); err != nil {
				sess.Close()
				<-forwarded
				send(streamMessage{Type: "error", Error: "transcription stream failed", Retryable: true})
				return
			}

		case websocket.TextMessage:
			var ctl streamControl
			if json.Unmarshal(data, &ctl) != nil || ctl.Type != "stop" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			res, err := sess.Finish(ctx)
			cancel()
			<-forwarded

			if err != nil {
				msg := streamMessage{Type: "error", Error: err.Error()}
				if errors.Is(err, apperr.ErrTranscription) {
					msg.Error = "transcription failed"
					msg.Retryable = true
				}
				send(msg)
			} else {
				send(streamMessage{Type: "saved", Result: res})
			}

			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return
		}
	}
}
