// Package threadsync is the synchronization layer between callers and the
// thread store: it creates threads and notes, serves live snapshots and
// triggers background enrichment.
package threadsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/live"
	"github.com/starford/threadnote/internal/metrics"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/store"
)

// Enricher derives thread metadata from the thread's content notes.
type Enricher interface {
	Enrich(ctx context.Context, notes []models.Note) (*models.ThreadMetadata, error)
}

// ErrNothingToEnrich is returned by Enrich when the thread has no content
// notes. Callers treat it as a no-op.
var ErrNothingToEnrich = errors.New("thread has no notes to enrich")

const (
	defaultEnrichTimeout  = 60 * time.Second
	defaultMaxEnrichments = 4
)

// Service coordinates the thread store, the live broker and enrichment.
type Service struct {
	store    store.ThreadStore
	broker   *live.Broker
	enricher Enricher
	logger   *slog.Logger

	enrichTimeout time.Duration
	maxEnrich     int64
	sem           *semaphore.Weighted
	wg            sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures a Service.
type Option func(*Service)

// WithEnricher enables background enrichment.
func WithEnricher(e Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEnrichmentTimeout bounds a single background enrichment run.
func WithEnrichmentTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

// WithMaxConcurrentEnrichments bounds how many enrichment runs call the
// model at once.
func WithMaxConcurrentEnrichments(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEnrich = int64(n)
		}
	}
}

// New creates a Service. The broker must be the Notifier the store publishes
// to, otherwise subscriptions never see changes.
func New(st store.ThreadStore, broker *live.Broker, opts ...Option) *Service {
	s := &Service{
		store:         st,
		broker:        broker,
		logger:        slog.Default(),
		enrichTimeout: defaultEnrichTimeout,
		maxEnrich:     defaultMaxEnrichments,
	}
	for _, o := range opts {
		o(s)
	}
	s.sem = semaphore.NewWeighted(s.maxEnrich)
	return s
}

// CreateEmptyThread creates a thread with placeholder metadata and no notes.
// Enrichment is not triggered.
func (s *Service) CreateEmptyThread(ctx context.Context) (string, error) {
	t, err := s.store.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	metrics.RecordThreadCreated()
	s.logger.Info("thread created", slog.String("thread_id", t.ID))
	return t.ID, nil
}

// CreateThread creates a thread holding initial as its first note and
// triggers enrichment.
func (s *Service) CreateThread(ctx context.Context, initial models.NoteInput) (string, error) {
	in, err := normalizeInput(initial)
	if err != nil {
		return "", err
	}
	t, n, err := s.store.CreateThreadWithNote(ctx, in)
	if err != nil {
		return "", err
	}
	metrics.RecordThreadCreated()
	metrics.RecordNoteCreated(string(n.Type))
	s.logger.Info("thread created",
		slog.String("thread_id", t.ID),
		slog.String("note_id", n.ID),
		slog.String("type", string(n.Type)),
	)

	s.TriggerEnrichment(t.ID)
	return t.ID, nil
}

// AddNoteToThread appends a note to an existing thread and triggers
// enrichment. It returns apperr.ErrNotFound for an unknown thread.
func (s *Service) AddNoteToThread(ctx context.Context, threadID string, data models.NoteInput) (string, error) {
	in, err := normalizeInput(data)
	if err != nil {
		return "", err
	}
	n, err := s.store.AddNote(ctx, threadID, in)
	if err != nil {
		return "", err
	}
	metrics.RecordNoteCreated(string(n.Type))
	s.logger.Info("note added",
		slog.String("thread_id", threadID),
		slog.String("note_id", n.ID),
		slog.String("type", string(n.Type)),
	)

	s.TriggerEnrichment(threadID)
	return n.ID, nil
}

// GetThread returns one thread.
func (s *Service) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.store.GetThread(ctx, id)
}

// ListThreads returns all threads, most recently updated first.
func (s *Service) ListThreads(ctx context.Context) ([]models.Thread, error) {
	return s.store.ListThreads(ctx)
}

// ThreadNotes returns every note of a thread, prompt notes included, in
// creation order.
func (s *Service) ThreadNotes(ctx context.Context, threadID string) ([]models.Note, error) {
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, threadID, store.NoteFilter{})
}

// Enrich regenerates the thread's metadata from its content notes and
// appends a prompt note with the follow-up questions. Failures leave the
// thread untouched.
func (s *Service) Enrich(ctx context.Context, threadID string) error {
	if s.enricher == nil {
		return fmt.Errorf("enrichment disabled: %w", apperr.ErrUnavailable)
	}

	start := time.Now()
	notes, err := s.store.ListNotes(ctx, threadID, store.NoteFilter{ExcludePrompts: true})
	if err != nil {
		metrics.RecordEnrichment("failed", time.Since(start).Seconds())
		return err
	}
	if len(notes) == 0 {
		metrics.RecordEnrichment("skipped", 0)
		return ErrNothingToEnrich
	}

	meta, err := s.enricher.Enrich(ctx, notes)
	if err != nil {
		metrics.RecordEnrichment("failed", time.Since(start).Seconds())
		return fmt.Errorf("enrich thread %s: %w", threadID, err)
	}
	if _, err := s.store.ApplyEnrichment(ctx, threadID, *meta); err != nil {
		metrics.RecordEnrichment("failed", time.Since(start).Seconds())
		return err
	}

	metrics.RecordEnrichment("success", time.Since(start).Seconds())
	s.logger.Info("thread enriched",
		slog.String("thread_id", threadID),
		slog.String("title", meta.Title),
		slog.Int("notes", len(notes)),
	)
	return nil
}

// TriggerEnrichment runs Enrich in the background. The caller never waits
// for it and never sees its errors; they are logged.
func (s *Service) TriggerEnrichment(threadID string) {
	if s.enricher == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("enrichment not started: shutting down", slog.String("thread_id", threadID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.enrichTimeout)
		defer cancel()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.logger.Warn("enrichment not started", slog.String("thread_id", threadID), slog.Any("error", err))
			return
		}
		defer s.sem.Release(1)

		err := s.Enrich(ctx, threadID)
		switch {
		case err == nil, errors.Is(err, ErrNothingToEnrich):
		default:
			s.logger.Error("enrichment failed", slog.String("thread_id", threadID), slog.Any("error", err))
		}
	}()
}

// EnrichmentEnabled reports whether an Enricher is configured.
func (s *Service) EnrichmentEnabled() bool {
	return s.enricher != nil
}

// Wait blocks until every triggered enrichment has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops accepting enrichment triggers and waits for the running ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func normalizeInput(in models.NoteInput) (models.NoteInput, error) {
	if in.Type == "" {
		in.Type = models.NoteTypeText
	}
	if strings.TrimSpace(in.Content) == "" {
		return in, fmt.Errorf("content: cannot be blank: %w", apperr.ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
	}
	return in, nil
}
