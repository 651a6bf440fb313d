package recorder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"

	"github.com/starford/threadnote/internal/apperr"
	"github.com/starford/threadnote/internal/metrics"
	"github.com/starford/threadnote/internal/storage"
	"github.com/starford/threadnote/internal/transcribe"
)

// Update is one transcript event together with the running transcript:
// finalized segments followed by the pending interim text.
type Update struct {
	transcribe.Event
	Transcript string
}

// Session is a live recording: audio chunks are streamed to the
// transcription service while the caller watches transcript events.
type Session struct {
	svc      *Service
	stream   transcribe.Stream
	threadID string

	mu         sync.Mutex
	transcript transcribe.Transcript
	audio      bytes.Buffer

	updates   chan Update
	drained   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// OpenSession starts a live recording. An empty threadID starts a new
// thread when the session finishes.
func (s *Service) OpenSession(ctx context.Context, threadID string) (*Session, error) {
	if s.streamer == nil {
		return nil, fmt.Errorf("live transcription disabled: %w", apperr.ErrUnavailable)
	}
	if err := s.checkThread(ctx, threadID); err != nil {
		return nil, err
	}
	stream, err := s.streamer.OpenStream(ctx)
	if err != nil {
		metrics.RecordTranscription("stream", "failed")
		return nil, fmt.Errorf("open stream: %v: %w", err, apperr.ErrTranscription)
	}

	sess := &Session{
		svc:      s,
		stream:   stream,
		threadID: threadID,
		updates:  make(chan Update, 64),
		drained:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go sess.pump()
	return sess, nil
}

// pump consumes the upstream until it ends. Updates the caller is not
// reading are dropped, so the upstream is always drained and Finish never
// waits on the caller.
func (sess *Session) pump() {
	defer close(sess.drained)
	defer close(sess.updates)
	for ev := range sess.stream.Events() {
		sess.mu.Lock()
		sess.transcript.Add(ev)
		up := Update{Event: ev, Transcript: sess.transcript.Current()}
		sess.mu.Unlock()

		select {
		case <-sess.closed:
			return
		default:
		}
		select {
		case sess.updates <- up:
		default:
		}
	}
}

// Events yields transcript updates until the stream ends. Reading it is
// optional; when the buffer is full further updates are skipped, and each
// update carries the full running transcript.
func (sess *Session) Events() <-chan Update {
	return sess.updates
}

// Send forwards an audio chunk.
func (sess *Session) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	sess.mu.Lock()
	sess.audio.Write(chunk)
	sess.mu.Unlock()
	return sess.stream.Send(chunk)
}

// Finish stops sending audio, waits for the upstream to deliver its remaining
// events and saves the finalized transcript as an audio note. It does not
// depend on the caller draining Events. The streamed audio is archived
// alongside batch recordings.
func (sess *Session) Finish(ctx context.Context) (*Result, error) {
	defer sess.Close()

	if err := sess.stream.CloseSend(); err != nil {
		sess.svc.logger.Warn("close stream", slog.Any("error", err))
	}
	select {
	case <-sess.drained:
	case <-ctx.Done():
		metrics.RecordTranscription("stream", "failed")
		return nil, fmt.Errorf("waiting for transcript: %v: %w", ctx.Err(), apperr.ErrTranscription)
	}

	sess.mu.Lock()
	text := strings.TrimSpace(sess.transcript.Final())
	audio := append([]byte(nil), sess.audio.Bytes()...)
	sess.mu.Unlock()

	if text == "" {
		if err := sess.stream.Err(); err != nil {
			metrics.RecordTranscription("stream", "failed")
			return nil, fmt.Errorf("stream: %v: %w", err, apperr.ErrTranscription)
		}
		metrics.RecordTranscription("stream", "empty")
		return nil, fmt.Errorf("no speech detected: %w", apperr.ErrInvalidInput)
	}
	metrics.RecordTranscription("stream", "success")

	res, err := sess.svc.saveNote(ctx, sess.threadID, text)
	if err != nil {
		return nil, err
	}
	if len(audio) > 0 {
		name := ulid.Make().String() + mimetype.Detect(audio).Extension()
		if err := sess.svc.blobs.Write(path.Join(storage.DoneDir, name), audio); err != nil {
			sess.svc.logger.Warn("archive streamed audio", slog.Any("error", err))
		} else {
			res.Recording = name
		}
	}
	return res, nil
}

// Close abandons the session without saving anything. It is safe to call
// more than once.
func (sess *Session) Close() {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		_ = sess.stream.Close()
	})
}
