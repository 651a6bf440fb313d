package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/threadnote/internal/models"
)

// ErrNoContent is returned when a thread has no content notes to enrich.
var ErrNoContent = errors.New("enrich: thread has no content notes")

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Enricher turns a thread's notes into metadata through a Generator.
type Enricher struct {
	gen Generator
}

// New creates an Enricher backed by gen.
func New(gen Generator) *Enricher {
	return &Enricher{gen: gen}
}

// Enrich builds the prompt for notes, calls the model and parses its answer.
func (e *Enricher) Enrich(ctx context.Context, notes []models.Note) (*models.ThreadMetadata, error) {
	content := 0
	for _, n := range notes {
		if !n.IsPrompt {
			content++
		}
	}
	if content == 0 {
		return nil, ErrNoContent
	}

	raw, err := e.gen.Generate(ctx, BuildPrompt(notes))
	if err != nil {
		return nil, fmt.Errorf("enrich: generate: %w", err)
	}
	return ParseMetadata(raw)
}
