package internal

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/threadnote/internal/models"
	"github.com/starford/threadnote/internal/transcribe"
)

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string) (string, error) {
	return `{"title":"Groceries","description":"Weekly list.","tags":["shopping","food","errands"],"questions":["Which store?","Any budget?","When?"]}`, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "Buy milk", nil
}

func (stubTranscriber) OpenStream(context.Context) (transcribe.Stream, error) {
	return nil, io.ErrClosedPipe
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(dir, "threadnote.db")
	cfg.Recordings.Path = filepath.Join(dir, "recordings")
	cfg.Inbox.Path = filepath.Join(dir, "inbox")
	return cfg
}

func buildApp(t *testing.T, cfg *Config, opts ...Option) (*components, http.Handler) {
	t.Helper()
	app := &application{}
	for _, opt := range append([]Option{WithConfig(cfg)}, opts...) {
		opt(app)
	}
	c, err := app.build(newLogger(io.Discard, cfg.App.LogLevel))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(c.close)
	return c, newHandler(cfg, c)
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthAndMetricsArePublic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "secret"}
	_, h := buildApp(t, cfg)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		if w := get(t, h, path); w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}
	if w := get(t, h, "/api/threads"); w.Code != http.StatusUnauthorized {
		t.Errorf("/api/threads without token = %d, want 401", w.Code)
	}
	if w := get(t, h, "/api/threads", "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("/api/threads with token = %d, want 200", w.Code)
	}
}

func TestHandler_ReadyFailsWhenStoreClosed(t *testing.T) {
	c, h := buildApp(t, testConfig(t))
	_ = c.db.Close()

	if w := get(t, h, "/health/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503", w.Code)
	}
}

func TestBuild_TranscriptionDisabledWithoutKey(t *testing.T) {
	c, h := buildApp(t, testConfig(t))

	if c.rec != nil {
		t.Error("recorder should be nil without a transcription key")
	}
	if w := get(t, h, "/api/recordings"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("recordings = %d, want 503", w.Code)
	}
}

func TestBuild_WithOverrides(t *testing.T) {
	cfg := testConfig(t)
	c, h := buildApp(t, cfg, WithGenerator(stubGenerator{}), WithTranscriber(stubTranscriber{}))

	if c.rec == nil || !c.svc.EnrichmentEnabled() {
		t.Fatal("overrides should enable recordings and enrichment")
	}
	if w := get(t, h, "/api/recordings"); w.Code != http.StatusOK {
		t.Errorf("recordings = %d, want 200", w.Code)
	}

	ctx := context.Background()
	id, err := c.svc.CreateThread(ctx, models.NoteInput{Content: "Buy milk"})
	if err != nil {
		t.Fatal(err)
	}
	c.svc.Wait()

	w := get(t, h, "/api/threads/"+id)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"title":"Groceries"`) {
		t.Errorf("thread = %d %s", w.Code, w.Body.String())
	}
}

func TestBuild_BadSQLitePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "missing", "dir", "db.sqlite")

	app := &application{config: cfg}
	if _, err := app.build(newLogger(io.Discard, cfg.App.LogLevel)); err == nil {
		t.Fatal("build should fail for an unopenable database")
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("Run without config should fail")
	}
	if err := RunMCP(context.Background()); err == nil {
		t.Fatal("RunMCP without config should fail")
	}
}

func TestServer_ShutdownEndsEventStreams(t *testing.T) {
	cfg := testConfig(t)
	c, _ := buildApp(t, cfg)
	srv := newServer(cfg, c)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "event: threads") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("shutdown took %s with an open event stream", d)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("serve = %v", err)
	}
}
