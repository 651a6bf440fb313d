package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-3", r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		assert.Equal(t, "Token key", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/webm", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "fake-audio", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":" Buy milk. ","confidence":0.98}]}]}}`))
	}))
	defer srv.Close()

	dg := NewDeepgram(Config{APIKey: "key", BaseURL: srv.URL, SmartFormat: true})
	text, err := dg.Transcribe(context.Background(), []byte("fake-audio"), "audio/webm")
	require.NoError(t, err)
	require.Equal(t, "Buy milk.", text)
}

func TestTranscribe_NoAudio(t *testing.T) {
	dg := NewDeepgram(Config{APIKey: "key", BaseURL: "http://127.0.0.1:1"})
	_, err := dg.Transcribe(context.Background(), nil, "audio/webm")
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestTranscribe_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	text, err := NewDeepgram(Config{BaseURL: srv.URL}).Transcribe(context.Background(), []byte("x"), "")
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestTranscribe_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`))
	}))
	defer srv.Close()

	_, err := NewDeepgram(Config{BaseURL: srv.URL}).Transcribe(context.Background(), []byte("x"), "audio/wav")
	require.ErrorContains(t, err, "Invalid credentials.")
}

func result(text string, final bool) []byte {
	msg := map[string]any{
		"type":         "Results",
		"is_final":     final,
		"speech_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	}
	data, _ := json.Marshal(msg)
	return data
}

// fakeListen echoes one interim and one final result per audio chunk and
// closes the session when it receives CloseStream.
func fakeListen(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("interim_results"))
		assert.Equal(t, "Token key", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			chunk := string(data)
			_ = conn.WriteMessage(websocket.TextMessage, result(chunk[:1], false))
			_ = conn.WriteMessage(websocket.TextMessage, result("", false))
			_ = conn.WriteMessage(websocket.TextMessage, result(chunk, true))
		}
	}))
}

func TestStream_EventsAndJoinedFinals(t *testing.T) {
	srv := fakeListen(t)
	defer srv.Close()

	dg := NewDeepgram(Config{APIKey: "key", StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	stream, err := dg.OpenStream(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send([]byte("hello")))
	require.NoError(t, stream.Send([]byte("world")))
	require.NoError(t, stream.CloseSend())

	var events []Event
	var tr Transcript
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
			tr.Add(ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}

	require.NoError(t, stream.Err())
	require.Equal(t, []Event{
		{Text: "h"},
		{Text: "hello", IsFinal: true, SpeechFinal: true},
		{Text: "w"},
		{Text: "world", IsFinal: true, SpeechFinal: true},
	}, events)
	require.Equal(t, "hello world", tr.Final())
}

func TestStream_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	dg := NewDeepgram(Config{StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := dg.OpenStream(context.Background())
	require.ErrorContains(t, err, "401")
}

func TestTranscript_InterimThenFinal(t *testing.T) {
	var tr Transcript
	tr.Add(Event{Text: "buy"})
	require.Equal(t, "buy", tr.Current())
	require.Empty(t, tr.Final())

	tr.Add(Event{Text: "buy milk", IsFinal: true})
	tr.Add(Event{Text: "also"})
	require.Equal(t, "buy milk also", tr.Current())
	require.Equal(t, "buy milk", tr.Final())
}

func TestTranscript_JoinsFinalSegments(t *testing.T) {
	var tr Transcript
	tr.Add(Event{Text: "Buy milk"})
	tr.Add(Event{Text: "Buy milk and eggs.", IsFinal: true})
	tr.Add(Event{Text: "Then"})
	tr.Add(Event{Text: "Then call mom.", IsFinal: true, SpeechFinal: true})
	tr.Add(Event{Text: "  ", IsFinal: true})

	require.Equal(t, "Buy milk and eggs. Then call mom.", tr.Final())
	require.Equal(t, tr.Final(), tr.Current())
}
