// Package models defines the domain types for Threadnote.
package models

import "time"

// Placeholder metadata a thread carries until enrichment completes.
const (
	DefaultThreadTitle       = "New Thread"
	DefaultThreadDescription = "Processing..."
)

// Thread is a named grouping of notes enriched with generated metadata.
type Thread struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Tags             []string  `json:"tags"`
	LeadingQuestions []string  `json:"leading_questions"`
	NoteCount        int       `json:"note_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ThreadMetadata is the enrichment output persisted onto a thread.
type ThreadMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Questions   []string `json:"questions"`
}
