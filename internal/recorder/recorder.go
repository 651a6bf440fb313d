// Package recorder turns recorded audio into notes: it stores the audio,
// transcribes it and hands the transcript to the thread layer.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/metrics"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/storage"
	"github.com/starford/threadnote/internal/transcribe"
)

// NoteSink is the part of the thread layer the recorder writes to.
type NoteSink interface {
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	CreateThread(ctx context.Context, initial models.NoteInput) (string, error)
	AddNoteToThread(ctx context.Context, threadID string, data models.NoteInput) (string, error)
}

// Result describes a transcribed recording saved as a note.
type Result struct {
	Recording  string `json:"recording,omitempty"`
	ThreadID   string `json:"thread_id"`
	NoteID     string `json:"note_id,omitempty"`
	Transcript string `json:"transcript"`
}

// Service runs the record → transcribe → note workflow.
type Service struct {
	blobs       storage.Blobs
	transcriber transcribe.Transcriber
	streamer    transcribe.Streamer
	notes       NoteSink
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStreamer enables live transcription sessions.
func WithStreamer(st transcribe.Streamer) Option {
	return func(s *Service) { s.streamer = st }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a recorder Service.
func New(blobs storage.Blobs, tr transcribe.Transcriber, notes NoteSink, opts ...Option) *Service {
	s := &Service{
		blobs:       blobs,
		transcriber: tr,
		notes:       notes,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Pending lists recordings whose transcription has not succeeded yet.
func (s *Service) Pending() ([]models.Recording, error) {
	return s.blobs.List()
}

// Submit stores audio, transcribes it in one request and saves the
// transcript as an audio note. An empty threadID starts a new thread.
//
// The audio is stored before transcription, so when transcription fails
// (apperr.ErrTranscription) the recording can be retried with Retry.
func (s *Service) Submit(ctx context.Context, threadID string, audio []byte) (*Result, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data provided: %w", apperr.ErrInvalidInput)
	}
	mt, err := detectAudio(audio)
	if err != nil {
		return nil, err
	}
	if err := s.checkThread(ctx, threadID); err != nil {
		return nil, err
	}

	name := ulid.Make().String() + mt.Extension()
	if err := s.blobs.Write(name, audio); err != nil {
		return nil, fmt.Errorf("store recording: %w", err)
	}
	s.logger.Info("recording stored",
		slog.String("recording", name),
		slog.String("content_type", mt.String()),
		slog.Int("bytes", len(audio)),
	)
	return s.transcribeStored(ctx, name, audio, mt.String(), threadID)
}

// Retry transcribes a previously stored recording again.
func (s *Service) Retry(ctx context.Context, name, threadID string) (*Result, error) {
	if name != path.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid recording name %q: %w", name, apperr.ErrInvalidInput)
	}
	audio, err := s.blobs.Read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("recording %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.transcribeStored(ctx, name, audio, mimetype.Detect(audio).String(), threadID)
}

func (s *Service) transcribeStored(ctx context.Context, name string, audio []byte, contentType, threadID string) (*Result, error) {
	text, err := s.transcriber.Transcribe(ctx, audio, contentType)
	if err != nil {
		metrics.RecordTranscription("batch", "failed")
		s.logger.Warn("transcription failed", slog.String("recording", name), slog.Any("error", err))
		return nil, fmt.Errorf("recording %s: %v: %w", name, err, apperr.ErrTranscription)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.RecordTranscription("batch", "empty")
		if err := s.blobs.Delete(name); err != nil {
			s.logger.Warn("remove silent recording", slog.String("recording", name), slog.Any("error", err))
		}
		return nil, fmt.Errorf("no speech detected: %w", apperr.ErrInvalidInput)
	}
	metrics.RecordTranscription("batch", "success")

	res, err := s.saveNote(ctx, threadID, text)
	if err != nil {
		return nil, err
	}
	res.Recording = name
	if err := s.blobs.Move(name, path.Join(storage.DoneDir, name)); err != nil {
		s.logger.Warn("archive recording", slog.String("recording", name), slog.Any("error", err))
	}
	return res, nil
}

func (s *Service) saveNote(ctx context.Context, threadID, text string) (*Result, error) {
	in := models.NoteInput{Content: text, Type: models.NoteTypeAudio}
	res := &Result{ThreadID: threadID, Transcript: text}

	var err error
	if threadID == "" {
		res.ThreadID, err = s.notes.CreateThread(ctx, in)
	} else {
		res.NoteID, err = s.notes.AddNoteToThread(ctx, threadID, in)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) checkThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}
	_, err := s.notes.GetThread(ctx, threadID)
	return err
}

// detectAudio sniffs the payload and rejects anything that is not an audio
// container. Browser recorders produce WebM, which sniffs as video/webm.
func detectAudio(data []byte) (*mimetype.MIME, error) {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		ct := m.String()
		if strings.HasPrefix(ct, "audio/") ||
			ct == "video/webm" || ct == "video/mp4" || ct == "application/ogg" {
			return mt, nil
		}
	}
	return nil, fmt.Errorf("unsupported audio format %s: %w", mt.String(), apperr.ErrInvalidInput)
}
