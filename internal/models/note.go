package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NoteType distinguishes typed notes from transcribed recordings.
type NoteType string

// Note types.
const (
	NoteTypeText  NoteType = "text"
	NoteTypeAudio NoteType = "audio"
)

// Note is one atomic contribution to a thread.
//
// Prompt notes carry generated follow-up questions; they are visible in the
// note stream but never counted in Thread.NoteCount.
type Note struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Content   string    `json:"content"`
	Type      NoteType  `json:"type"`
	IsPrompt  bool      `json:"is_prompt"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteInput is the user-supplied part of a note.
type NoteInput struct {
	Content string   `json:"content"`
	Type    NoteType `json:"type"`
}

// Validate validates the note input.
func (in NoteInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Content, validation.Required),
		validation.Field(&in.Type, validation.Required, validation.In(NoteTypeText, NoteTypeAudio)),
	)
}

// Recording is a stored audio capture awaiting or past transcription.
type Recording struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modified_at"`
}
