package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/threadnote/internal/recorder"
)

type submission struct {
	threadID string
	audio    string
}

type fakeSubmitter struct {
	mu    sync.Mutex
	subs  []submission
	fails map[string]error
}

func (f *fakeSubmitter) Submit(_ context.Context, threadID string, audio []byte) (*recorder.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[string(audio)]; err != nil {
		return nil, err
	}
	f.subs = append(f.subs, submission{threadID: threadID, audio: string(audio)})
	if threadID == "" {
		threadID = "new-thread"
	}
	return &recorder.Result{ThreadID: threadID, Transcript: string(audio)}, nil
}

func (f *fakeSubmitter) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.subs...)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startInbox(t *testing.T, dir string, sub Submitter, cb EventCallback) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, dir, sub, logger, cb, WithDebounce(40*time.Millisecond))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func TestInbox_RootFileStartsThread(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startInbox(t, dir, sub, nil)

	p := filepath.Join(dir, "memo.wav")
	_ = os.WriteFile(p, []byte("audio-1"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return len(sub.submissions()) == 1 && !exists(p)
	}, "root file not submitted and removed")
	if got := sub.submissions(); len(got) == 1 && got[0].threadID != "" {
		t.Errorf("thread id = %q, want new thread", got[0].threadID)
	}
}

func TestInbox_SubdirAppendsToThread(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startInbox(t, dir, sub, nil)

	threadDir := filepath.Join(dir, "01HTHREAD")
	_ = os.Mkdir(threadDir, 0o755)
	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(threadDir, "more.wav"), []byte("audio-2"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := sub.submissions()
		return len(got) == 1 && got[0].threadID == "01HTHREAD"
	}, "subdir file not appended to its thread")
}

func TestInbox_ExistingFilesProcessedAtStartup(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.wav"), []byte("early"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, ".partial"), []byte("ignored"), 0o644)

	sub := &fakeSubmitter{}
	startInbox(t, dir, sub, nil)

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return len(sub.submissions()) == 1
	}, "startup scan did not submit existing file")
	if !exists(filepath.Join(dir, ".partial")) {
		t.Error("hidden file should be left alone")
	}
}

func TestInbox_DuplicateSkipped(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startInbox(t, dir, sub, nil)

	first := filepath.Join(dir, "one.wav")
	_ = os.WriteFile(first, []byte("same-audio"), 0o644)
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return !exists(first)
	}, "first copy not processed")

	second := filepath.Join(dir, "two.wav")
	_ = os.WriteFile(second, []byte("same-audio"), 0o644)
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return !exists(second)
	}, "duplicate not removed")

	if n := len(sub.submissions()); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}
}

func TestInbox_FailureLeavesFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{fails: map[string]error{"bad": errors.New("transcription failed")}}

	var mu sync.Mutex
	var failures []string
	startInbox(t, dir, sub, func(rel string, _ *recorder.Result, err error) {
		if err != nil {
			mu.Lock()
			failures = append(failures, rel)
			mu.Unlock()
		}
	})

	p := filepath.Join(dir, "bad.wav")
	_ = os.WriteFile(p, []byte("bad"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1 && failures[0] == "bad.wav"
	}, "failure not reported")
	if !exists(p) {
		t.Error("failed file should stay in the inbox")
	}
}
