package threadsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/threadnote/internal/metrics"
	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/store"
)

// Subscription is a live query. The callback receives the full ordered
// result on first load and again after every change.
type Subscription struct {
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
	closed     atomic.Bool
	inCallback atomic.Bool
}

// Unsubscribe stops the subscription. It is idempotent and may be called
// from inside the callback. Once it returns no further callback starts.
func (s *Subscription) Unsubscribe() {
	s.closed.Store(true)
	s.cancel()
	if !s.inCallback.Load() {
		// Wait out a delivery that passed its closed check but has not
		// entered the callback yet.
		s.mu.Lock()
		s.mu.Unlock() //nolint:staticcheck
	}
}

// Done is closed once the subscription's goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(call func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	call()
}

// SubscribeToThreads delivers every thread, most recently updated first.
func (s *Service) SubscribeToThreads(ctx context.Context, fn func([]models.Thread)) *Subscription {
	return watch(ctx, s, store.TopicThreads, "threads", s.store.ListThreads, fn)
}

// SubscribeToThreadNotes delivers every note of threadID, prompt notes
// included, in creation order.
func (s *Service) SubscribeToThreadNotes(ctx context.Context, threadID string, fn func([]models.Note)) *Subscription {
	query := func(ctx context.Context) ([]models.Note, error) {
		return s.store.ListNotes(ctx, threadID, store.NoteFilter{})
	}
	return watch(ctx, s, store.NotesTopic(threadID), "notes", query, fn)
}

// watch registers the listener before the first query so no change made
// between the initial load and the subscription is missed.
func watch[T any](ctx context.Context, s *Service, topic, kind string, query func(context.Context) (T, error), fn func(T)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	l := s.broker.Subscribe(topic)
	metrics.LiveSubscriptions.WithLabelValues(kind).Inc()

	refresh := func() {
		snap, err := query(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("live query failed", slog.String("topic", topic), slog.Any("error", err))
			}
			return
		}
		sub.deliver(func() { fn(snap) })
	}

	go func() {
		defer close(sub.done)
		defer metrics.LiveSubscriptions.WithLabelValues(kind).Dec()
		defer s.broker.Unsubscribe(l)
		defer cancel()

		refresh()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-l.C():
				if !ok {
					return
				}
				if ctx.Err() != nil {
					return
				}
				refresh()
			}
		}
	}()
	return sub
}
