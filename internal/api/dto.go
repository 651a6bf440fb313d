package api

import (
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/recorder"
)

// CreateThreadRequest is the request body for creating a thread. An empty
// body creates a thread without notes.
type CreateThreadRequest struct {
	Content string          `json:"content,omitempty" example:"Buy milk"`
	Type    models.NoteType `json:"type,omitempty" example:"text" enums:"text,audio"`
}

// AddNoteRequest is the request body for appending a note.
type AddNoteRequest struct {
	Content string          `json:"content" example:"Also buy eggs" validate:"required"`
	Type    models.NoteType `json:"type,omitempty" example:"text" enums:"text,audio"`
}

// AddNoteResponse is returned after a note is appended.
type AddNoteResponse struct {
	ID       string `json:"id" example:"01J0Z8X4W6YV3N5B2C1D0E9F8G" validate:"required"`
	ThreadID string `json:"thread_id" example:"01J0Z8X4W6YV3N5B2C1D0E9F7A" validate:"required"`
}

// ThreadListResponse wraps the thread listing.
type ThreadListResponse struct {
	Threads []models.Thread `json:"threads" validate:"required"`
}

// NoteListResponse wraps the notes of one thread.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
}

// RecordingListResponse wraps recordings awaiting transcription.
type RecordingListResponse struct {
	Recordings []models.Recording `json:"recordings" validate:"required"`
}

// RecordingResult is returned after a recording became a note.
type RecordingResult = recorder.Result

// streamMessage is a server → client WebSocket frame on the live recording
// socket.
type streamMessage struct {
	Type        string           `json:"type"`
	Text        string           `json:"text,omitempty"`
	IsFinal     bool             `json:"is_final,omitempty"`
	SpeechFinal bool             `json:"speech_final,omitempty"`
	Transcript  string           `json:"transcript,omitempty"`
	Result      *recorder.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Retryable   bool             `json:"retryable,omitempty"`
}

// streamControl is a client → server text frame on the live recording
// socket.
type streamControl struct {
	Type string `json:"type"`
}
