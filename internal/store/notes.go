package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/models"
)

const noteColumns = `id, thread_id, content, type, is_prompt, created_at, updated_at`

// AddNote appends a user note to an existing thread. The note insert, the
// note_count increment and the updated_at refresh commit together; the
// increment is computed by SQLite so concurrent appends never lose counts.
func (db *DB) AddNote(ctx context.Context, threadID string, in models.NoteInput) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup thread: %w", err)
	}

	n := db.newNote(threadID, in.Content, in.Type, false)
	if err := insertNote(ctx, tx, n); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET note_count = note_count + 1, updated_at = ? WHERE id = ?
	`, n.CreatedAt.UnixNano(), threadID); err != nil {
		return nil, fmt.Errorf("store: increment note count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	db.publish(TopicThreads, NotesTopic(threadID))
	return n, nil
}

// ListNotes returns the notes of a thread in creation order.
func (db *DB) ListNotes(ctx context.Context, threadID string, f NoteFilter) ([]models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE thread_id = ?`
	if f.ExcludePrompts {
		query += ` AND is_prompt = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// CountNotes counts the notes stored for a thread.
func (db *DB) CountNotes(ctx context.Context, threadID string, f NoteFilter) (int, error) {
	query := `SELECT count(*) FROM notes WHERE thread_id = ?`
	if f.ExcludePrompts {
		query += ` AND is_prompt = 0`
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, query, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count notes: %w", err)
	}
	return n, nil
}

func (db *DB) newNote(threadID, content string, typ models.NoteType, isPrompt bool) *models.Note {
	now := db.timestamp()
	return &models.Note{
		ID:        db.newID(now),
		ThreadID:  threadID,
		Content:   content,
		Type:      typ,
		IsPrompt:  isPrompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertNote(ctx context.Context, ex execer, n *models.Note) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.ThreadID, n.Content, string(n.Type), n.IsPrompt, n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: insert note: %w", err)
	}
	return nil
}

func scanNote(r rowScanner) (*models.Note, error) {
	var (
		n                          models.Note
		typ                        string
		createdNanos, updatedNanos int64
	)
	if err := r.Scan(&n.ID, &n.ThreadID, &n.Content, &typ, &n.IsPrompt, &createdNanos, &updatedNanos); err != nil {
		return nil, err
	}
	n.Type = models.NoteType(typ)
	n.CreatedAt = time.Unix(0, createdNanos).UTC()
	n.UpdatedAt = time.Unix(0, updatedNanos).UTC()
	return &n, nil
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
