package threadsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/threadnote/internal/models"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestSubscribeToThreads_InitialAndUpdates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	existing, err := svc.CreateEmptyThread(ctx)
	require.NoError(t, err)

	snaps := make(chan []models.Thread, 16)
	sub := svc.SubscribeToThreads(ctx, func(ts []models.Thread) { snaps <- ts })
	defer sub.Unsubscribe()

	initial := receive(t, snaps)
	require.Len(t, initial, 1)
	require.Equal(t, existing, initial[0].ID)

	created, err := svc.CreateEmptyThread(ctx)
	require.NoError(t, err)

	var latest []models.Thread
	require.Eventually(t, func() bool {
		select {
		case latest = <-snaps:
		default:
		}
		return len(latest) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, created, latest[0].ID, "newest thread first")
}

func TestSubscribeToThreadNotes_OrderedSnapshots(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateThread(ctx, text("one"))
	require.NoError(t, err)

	snaps := make(chan []models.Note, 16)
	sub := svc.SubscribeToThreadNotes(ctx, id, func(ns []models.Note) { snaps <- ns })
	defer sub.Unsubscribe()

	require.Len(t, receive(t, snaps), 1)

	_, err = svc.AddNoteToThread(ctx, id, text("two"))
	require.NoError(t, err)

	var latest []models.Note
	require.Eventually(t, func() bool {
		select {
		case latest = <-snaps:
		default:
		}
		return len(latest) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "one", latest[0].Content)
	require.Equal(t, "two", latest[1].Content)
}

func TestSubscribeToThreadNotes_IgnoresOtherThreads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateThread(ctx, text("a"))
	require.NoError(t, err)
	b, err := svc.CreateThread(ctx, text("b"))
	require.NoError(t, err)

	snaps := make(chan []models.Note, 16)
	sub := svc.SubscribeToThreadNotes(ctx, a, func(ns []models.Note) { snaps <- ns })
	defer sub.Unsubscribe()
	receive(t, snaps)

	_, err = svc.AddNoteToThread(ctx, b, text("elsewhere"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, snaps)
}

func TestUnsubscribe_StopsCallbacks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateEmptyThread(ctx)
	require.NoError(t, err)

	snaps := make(chan []models.Note, 16)
	sub := svc.SubscribeToThreadNotes(ctx, id, func(ns []models.Note) { snaps <- ns })
	receive(t, snaps)

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err = svc.AddNoteToThread(ctx, id, text("after"))
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription goroutine did not exit")
	}
	require.Empty(t, snaps)
}

func TestUnsubscribe_FromCallback(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	calls := make(chan struct{}, 4)
	var sub *Subscription
	ready := make(chan struct{})
	sub = svc.SubscribeToThreads(ctx, func([]models.Thread) {
		<-ready
		calls <- struct{}{}
		sub.Unsubscribe()
	})
	close(ready)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("unsubscribe from callback deadlocked")
	}

	_, err := svc.CreateEmptyThread(ctx)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, calls, 1)
}

func TestSubscription_EndsWithContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	snaps := make(chan []models.Thread, 4)
	sub := svc.SubscribeToThreads(ctx, func(ts []models.Thread) { snaps <- ts })
	receive(t, snaps)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription ignored context cancellation")
	}
}
