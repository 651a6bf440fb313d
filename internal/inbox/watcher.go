// Package inbox turns audio files dropped into a directory into notes.
//
// Files at the inbox root start a new thread; files inside a directory
// named after a thread id are appended to that thread.
package inbox

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/threadnote/internal/recorder"
	"github.com/starford/threadnote/internal/storage"
)

// Submitter runs the recording workflow for one file.
type Submitter interface {
	Submit(ctx context.Context, threadID string, audio []byte) (*recorder.Result, error)
}

// EventCallback is called after each processed file. err is nil when the
// file became a note and has been removed.
type EventCallback func(rel string, res *recorder.Result, err error)

const defaultDebounce = 500 * time.Millisecond

type options struct {
	debounce time.Duration
}

// Option configures Watch.
type Option func(*options)

// WithDebounce sets how long a file must stay unchanged before it is
// processed.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

type inbox struct {
	root   string
	sub    Submitter
	logger *slog.Logger
	cb     EventCallback

	// processed checksums, so a file dropped twice becomes one note
	processed map[string]string
	// checksums of files that failed, so an unchanged file is not retried
	// on every write event
	failed map[string]string
}

// Watch processes files already in root, then watches it until ctx is
// cancelled.
func Watch(ctx context.Context, root string, sub Submitter, logger *slog.Logger, cb EventCallback, opts ...Option) error {
	o := options{debounce: defaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	in := &inbox{
		root:      root,
		sub:       sub,
		logger:    logger,
		cb:        cb,
		processed: make(map[string]string),
		failed:    make(map[string]string),
	}
	if err := in.addDirs(w); err != nil {
		return err
	}
	logger.Info("inbox: started", slog.String("root", root))

	for _, p := range in.scan(root) {
		in.process(ctx, p)
	}

	pending := make(map[string]time.Time)
	tick := time.NewTicker(o.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case now := <-tick.C:
			for p, last := range pending {
				if now.Sub(last) < o.debounce {
					continue
				}
				delete(pending, p)
				in.process(ctx, p)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if filepath.Dir(ev.Name) == filepath.Clean(root) {
						if addErr := w.Add(ev.Name); addErr != nil {
							logger.Warn("inbox: watch dir failed", slog.String("path", ev.Name), slog.Any("error", addErr))
						}
						for _, p := range in.scan(ev.Name) {
							pending[p] = time.Now()
						}
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && in.accepts(ev.Name) {
				pending[ev.Name] = time.Now()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.Any("error", watchErr))
		}
	}
}

// threadFor maps a path to its target thread: "" for the root, the
// directory name one level down. ok is false for anything deeper.
func (in *inbox) threadFor(abs string) (threadID string, ok bool) {
	rel, err := filepath.Rel(in.root, abs)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		return "", true
	case 2:
		return parts[0], true
	default:
		return "", false
	}
}

func (in *inbox) accepts(abs string) bool {
	if strings.HasPrefix(filepath.Base(abs), ".") {
		return false
	}
	_, ok := in.threadFor(abs)
	return ok
}

func (in *inbox) process(ctx context.Context, abs string) {
	if ctx.Err() != nil {
		return
	}
	rel, _ := filepath.Rel(in.root, abs)
	threadID, _ := in.threadFor(abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Warn("inbox: read failed", slog.String("path", rel), slog.Any("error", err))
		}
		return
	}
	sum := storage.Checksum(data)

	if prev, dup := in.processed[sum]; dup {
		in.logger.Info("inbox: duplicate skipped", slog.String("path", rel), slog.String("original", prev))
		in.remove(abs, rel)
		return
	}
	if in.failed[abs] == sum {
		return
	}

	res, err := in.sub.Submit(ctx, threadID, data)
	if err != nil {
		in.failed[abs] = sum
		in.logger.Warn("inbox: submit failed",
			slog.String("path", rel),
			slog.String("thread_id", threadID),
			slog.Any("error", err))
		if in.cb != nil {
			in.cb(rel, nil, err)
		}
		return
	}

	delete(in.failed, abs)
	in.processed[sum] = rel
	in.remove(abs, rel)
	in.logger.Info("inbox: note created",
		slog.String("path", rel),
		slog.String("thread_id", res.ThreadID))
	if in.cb != nil {
		in.cb(rel, res, nil)
	}
}

func (in *inbox) remove(abs, rel string) {
	if err := os.Remove(abs); err != nil {
		in.logger.Warn("inbox: remove failed", slog.String("path", rel), slog.Any("error", err))
	}
}

// scan returns the acceptable files under dir, at most one level below the
// inbox root.
func (in *inbox) scan(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if in.accepts(p) {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// addDirs watches the root and its direct subdirectories.
func (in *inbox) addDirs(w *fsnotify.Watcher) error {
	if err := w.Add(in.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(in.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.Add(filepath.Join(in.root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
