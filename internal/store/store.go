// Package store provides the SQLite-backed document store for threads and
// notes, including change notifications for live queries.
package store

import (
	"context"

	"github.com/starford/threadnote/internal/models"
)

// TopicThreads is published after any thread document changes.
const TopicThreads = "threads"

// NotesTopic returns the topic published after a note is written to threadID.
func NotesTopic(threadID string) string {
	return "notes/" + threadID
}

// Notifier receives change topics after a write commits.
type Notifier interface {
	Publish(topic string)
}

// NoteFilter narrows ListNotes results.
type NoteFilter struct {
	ExcludePrompts bool
}

// ThreadStore defines the persistence operations the synchronization layer
// depends on. Consumers should depend on this interface rather than *DB.
type ThreadStore interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	CreateThreadWithNote(ctx context.Context, in models.NoteInput) (*models.Thread, *models.Note, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreads(ctx context.Context) ([]models.Thread, error)
	AddNote(ctx context.Context, threadID string, in models.NoteInput) (*models.Note, error)
	ListNotes(ctx context.Context, threadID string, f NoteFilter) ([]models.Note, error)
	ApplyEnrichment(ctx context.Context, threadID string, meta models.ThreadMetadata) (*models.Note, error)
	CountNotes(ctx context.Context, threadID string, f NoteFilter) (int, error)
}

// Verify *DB satisfies ThreadStore at compile time.
var _ ThreadStore = (*DB)(nil)
