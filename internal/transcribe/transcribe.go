// Package transcribe converts recorded audio into text through a hosted
// speech-to-text service, either in one request or as a live stream.
package transcribe

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAudio is returned when a batch request carries no audio.
var ErrNoAudio = errors.New("transcribe: no audio data provided")

// Transcriber converts a complete audio payload into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Streamer opens live transcription sessions.
type Streamer interface {
	OpenStream(ctx context.Context) (Stream, error)
}

// Stream is one live transcription session. Audio chunks go in through
// Send; transcript events come out of Events, which is closed when the
// session ends.
type Stream interface {
	Send(chunk []byte) error
	Events() <-chan Event
	// CloseSend tells the service no more audio follows. Remaining events
	// are still delivered.
	CloseSend() error
	Close() error
	// Err reports the error that ended the session, if any.
	Err() error
}

// Event is one transcript update. Interim events may be revised by later
// ones; final events are not.
type Event struct {
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
}

// Transcript tracks the state of a streaming session. The service finalizes
// speech segment by segment, so every final event closes one segment and the
// final transcript is the finalized segments in order.
type Transcript struct {
	segments []string
	interim  string
}

// Add applies an event.
func (t *Transcript) Add(ev Event) {
	if ev.IsFinal {
		if text := strings.TrimSpace(ev.Text); text != "" {
			t.segments = append(t.segments, text)
		}
		t.interim = ""
		return
	}
	t.interim = strings.TrimSpace(ev.Text)
}

// Final returns every finalized segment joined with spaces; it is
// authoritative once recording stops.
func (t *Transcript) Final() string {
	return strings.Join(t.segments, " ")
}

// Current returns the finalized text followed by the pending interim
// result, for display while recording.
func (t *Transcript) Current() string {
	if t.interim == "" {
		return t.Final()
	}
	if len(t.segments) == 0 {
		return t.interim
	}
	return t.Final() + " " + t.interim
}
