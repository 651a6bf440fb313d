package internal

import (
	"github.com/starford/threadnote/internal/enrich"
	"github.com/starford/threadnote/internal/transcribe"
)

// Option is a functional option for configuring the application.
type Option func(*application)

// Transcriber covers both batch and streaming transcription.
type Transcriber interface {
	transcribe.Transcriber
	transcribe.Streamer
}

type application struct {
	config *Config

	// Built from config when nil.
	generator   enrich.Generator
	transcriber Transcriber
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithGenerator replaces the Gemini client used for enrichment. Enrichment
// is enabled regardless of the enrichment config section.
func WithGenerator(g enrich.Generator) Option {
	return func(a *application) {
		a.generator = g
	}
}

// WithTranscriber replaces the Deepgram client used for recordings.
// Recording endpoints are enabled regardless of the transcription key.
func WithTranscriber(t Transcriber) Option {
	return func(a *application) {
		a.transcriber = t
	}
}
