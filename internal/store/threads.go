package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/models"
)

const threadColumns = `id, title, description, tags, leading_questions, note_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateThread inserts an empty thread with placeholder metadata.
func (db *DB) CreateThread(ctx context.Context) (*models.Thread, error) {
	t := db.newThread(0)
	if err := insertThread(ctx, db.conn, t); err != nil {
		return nil, err
	}
	db.publish(TopicThreads)
	return t, nil
}

// CreateThreadWithNote inserts a thread and its first note in one transaction.
func (db *DB) CreateThreadWithNote(ctx context.Context, in models.NoteInput) (*models.Thread, *models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	t := db.newThread(1)
	if err := insertThread(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	n := db.newNote(t.ID, in.Content, in.Type, false)
	if err := insertNote(ctx, tx, n); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("store: commit: %w", err)
	}

	db.publish(TopicThreads, NotesTopic(t.ID))
	return t, n, nil
}

// GetThread returns the thread with the given id or apperr.ErrNotFound.
func (db *DB) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get thread: %w", err)
	}
	return t, nil
}

// ListThreads returns every thread, most recently updated first.
func (db *DB) ListThreads(ctx context.Context) ([]models.Thread, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+threadColumns+` FROM threads ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list threads: %w", err)
	}
	defer rows.Close()

	out := []models.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan thread: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ApplyEnrichment overwrites the thread's generated metadata and appends the
// prompt note carrying the follow-up questions. Both writes share a
// transaction so the thread is never left partially enriched.
func (db *DB) ApplyEnrichment(ctx context.Context, threadID string, meta models.ThreadMetadata) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tagsJSON, _ := json.Marshal(nonNil(meta.Tags))
	questionsJSON, _ := json.Marshal(nonNil(meta.Questions))
	now := db.timestamp()

	res, err := tx.ExecContext(ctx, `
		UPDATE threads SET
			title             = ?,
			description       = ?,
			tags              = ?,
			leading_questions = ?,
			updated_at        = ?
		WHERE id = ?
	`, meta.Title, meta.Description, string(tagsJSON), string(questionsJSON), now.UnixNano(), threadID)
	if err != nil {
		return nil, fmt.Errorf("store: update thread metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, apperr.ErrNotFound)
	}

	prompt := db.newNote(threadID, joinLines(meta.Questions), models.NoteTypeText, true)
	if err := insertNote(ctx, tx, prompt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	db.publish(TopicThreads, NotesTopic(threadID))
	return prompt, nil
}

func (db *DB) newThread(noteCount int) *models.Thread {
	now := db.timestamp()
	return &models.Thread{
		ID:               db.newID(now),
		Title:            models.DefaultThreadTitle,
		Description:      models.DefaultThreadDescription,
		Tags:             []string{},
		LeadingQuestions: []string{},
		NoteCount:        noteCount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertThread(ctx context.Context, ex execer, t *models.Thread) error {
	tagsJSON, _ := json.Marshal(t.Tags)
	questionsJSON, _ := json.Marshal(t.LeadingQuestions)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, string(tagsJSON), string(questionsJSON), t.NoteCount,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: insert thread: %w", err)
	}
	return nil
}

func scanThread(r rowScanner) (*models.Thread, error) {
	var (
		t                          models.Thread
		tagsJSON, questionsJSON    string
		createdNanos, updatedNanos int64
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &tagsJSON, &questionsJSON, &t.NoteCount, &createdNanos, &updatedNanos); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(questionsJSON), &t.LeadingQuestions); err != nil {
		return nil, fmt.Errorf("decode leading questions: %w", err)
	}
	t.Tags = nonNil(t.Tags)
	t.LeadingQuestions = nonNil(t.LeadingQuestions)
	t.CreatedAt = time.Unix(0, createdNanos).UTC()
	t.UpdatedAt = time.Unix(0, updatedNanos).UTC()
	return &t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
