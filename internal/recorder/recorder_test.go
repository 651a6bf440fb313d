package recorder

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/storage"
	"github.com/starford/threadnote/internal/transcribe"
)

// wav is the smallest payload that sniffs as audio/wav.
var wav = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00")

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, contentType string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	threads map[string][]models.NoteInput
	seq     int
}

func newFakeSink() *fakeSink {
	return &fakeSink{threads: map[string][]models.NoteInput{}}
}

func (f *fakeSink) GetThread(_ context.Context, id string) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[id]; !ok {
		return nil, fmt.Errorf("thread %s: %w", id, apperr.ErrNotFound)
	}
	return &models.Thread{ID: id}, nil
}

func (f *fakeSink) CreateThread(_ context.Context, in models.NoteInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("t%d", f.seq)
	f.threads[id] = []models.NoteInput{in}
	return id, nil
}

func (f *fakeSink) AddNoteToThread(_ context.Context, threadID string, in models.NoteInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		return "", apperr.ErrNotFound
	}
	f.threads[threadID] = append(f.threads[threadID], in)
	f.seq++
	return fmt.Sprintf("n%d", f.seq), nil
}

func (f *fakeSink) notes(id string) []models.NoteInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NoteInput(nil), f.threads[id]...)
}

func newRecorder(t *testing.T, tr transcribe.Transcriber, opts ...Option) (*Service, *storage.FS, *fakeSink) {
	t.Helper()
	blobs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	sink := newFakeSink()
	return New(blobs, tr, sink, opts...), blobs, sink
}

func TestSubmit_NewThread(t *testing.T) {
	svc, blobs, sink := newRecorder(t, &fakeTranscriber{text: " Buy milk. "})

	res, err := svc.Submit(context.Background(), "", wav)
	require.NoError(t, err)
	require.NotEmpty(t, res.ThreadID)
	require.Equal(t, "Buy milk.", res.Transcript)
	require.Equal(t, ".wav", path.Ext(res.Recording))

	notes := sink.notes(res.ThreadID)
	require.Len(t, notes, 1)
	require.Equal(t, models.NoteTypeAudio, notes[0].Type)
	require.Equal(t, "Buy milk.", notes[0].Content)

	pending, err := svc.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
	_, err = blobs.Read(path.Join(storage.DoneDir, res.Recording))
	require.NoError(t, err, "transcribed audio is archived")
}

func TestSubmit_ExistingThread(t *testing.T) {
	svc, _, sink := newRecorder(t, &fakeTranscriber{text: "Also eggs"})
	ctx := context.Background()
	id, _ := sink.CreateThread(ctx, models.NoteInput{Content: "Buy milk", Type: models.NoteTypeText})

	res, err := svc.Submit(ctx, id, wav)
	require.NoError(t, err)
	require.Equal(t, id, res.ThreadID)
	require.NotEmpty(t, res.NoteID)
	require.Len(t, sink.notes(id), 2)
}

func TestSubmit_UnknownThreadStoresNothing(t *testing.T) {
	tr := &fakeTranscriber{text: "x"}
	svc, _, _ := newRecorder(t, tr)

	_, err := svc.Submit(context.Background(), "ghost", wav)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Zero(t, tr.calls)
	pending, _ := svc.Pending()
	require.Empty(t, pending)
}

func TestSubmit_RejectsNonAudio(t *testing.T) {
	svc, _, _ := newRecorder(t, &fakeTranscriber{text: "x"})
	for name, data := range map[string][]byte{
		"empty": nil,
		"text":  []byte("just some text"),
		"png":   []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), "", data)
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestSubmit_TranscriptionFailureKeepsRecording(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("deepgram: status 502")}
	svc, _, sink := newRecorder(t, tr)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "", wav)
	require.ErrorIs(t, err, apperr.ErrTranscription)
	require.Empty(t, sink.threads, "no note without a transcript")

	pending, err := svc.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	tr.err = nil
	tr.text = "Recovered"
	res, err := svc.Retry(ctx, pending[0].Name, "")
	require.NoError(t, err)
	require.Equal(t, "Recovered", sink.notes(res.ThreadID)[0].Content)

	pending, _ = svc.Pending()
	require.Empty(t, pending)
}

func TestSubmit_NoSpeech(t *testing.T) {
	svc, _, sink := newRecorder(t, &fakeTranscriber{text: "   "})

	_, err := svc.Submit(context.Background(), "", wav)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.ErrorContains(t, err, "no speech detected")
	require.Empty(t, sink.threads)
	pending, _ := svc.Pending()
	require.Empty(t, pending)
}

func TestRetry_Unknown(t *testing.T) {
	svc, _, _ := newRecorder(t, &fakeTranscriber{text: "x"})
	_, err := svc.Retry(context.Background(), "missing.wav", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Retry(context.Background(), "../etc/passwd", "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSubmit_FailedRecordingPersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	blobs, err := storage.NewFS(dir)
	require.NoError(t, err)
	svc := New(blobs, &fakeTranscriber{err: errors.New("offline")}, newFakeSink())
	_, err = svc.Submit(context.Background(), "", wav)
	require.ErrorIs(t, err, apperr.ErrTranscription)

	// A fresh store over the same directory still sees the recording.
	reopened, err := storage.NewFS(dir)
	require.NoError(t, err)
	pending, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, storage.Checksum(wav), pending[0].Checksum)
}
