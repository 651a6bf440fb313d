package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// Deepgram defaults.
const (
	DefaultBaseURL   = "https://api.deepgram.com"
	DefaultStreamURL = "wss://api.deepgram.com"
	DefaultModel     = "nova-3"
)

// Config configures the Deepgram client.
type Config struct {
	APIKey      string
	BaseURL     string
	StreamURL   string
	Model       string
	Language    string
	SmartFormat bool
	Timeout     time.Duration
}

// Deepgram implements Transcriber and Streamer against the Deepgram listen
// API.
type Deepgram struct {
	cfg        Config
	httpClient *resty.Client
	dialer     *websocket.Dialer
}

var (
	_ Transcriber = (*Deepgram)(nil)
	_ Streamer    = (*Deepgram)(nil)
)

// NewDeepgram creates a Deepgram client.
func NewDeepgram(cfg Config) *Deepgram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.StreamURL = strings.TrimRight(cfg.StreamURL, "/")

	return &Deepgram{
		cfg: cfg,
		httpClient: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Authorization", "Token "+cfg.APIKey).
			SetTimeout(cfg.Timeout),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *Deepgram) params() url.Values {
	q := url.Values{}
	q.Set("model", d.cfg.Model)
	q.Set("smart_format", strconv.FormatBool(d.cfg.SmartFormat))
	if d.cfg.Language != "" {
		q.Set("language", d.cfg.Language)
	}
	return q
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r *listenResponse) transcript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
}

type deepgramError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Transcribe submits a complete recording and returns the transcript of the
// first channel's top alternative. An empty string means no speech was
// recognized.
func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var result listenResponse
	var apiErr deepgramError
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetQueryParamsFromValues(d.params()).
		SetBody(audio).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v1/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram: request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.ErrMsg
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("deepgram: status %d: %s", resp.StatusCode(), msg)
	}
	return result.transcript(), nil
}

// OpenStream starts a live session with interim results enabled.
func (d *Deepgram) OpenStream(ctx context.Context) (Stream, error) {
	q := d.params()
	q.Set("interim_results", "true")
	endpoint := d.cfg.StreamURL + "/v1/listen?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: stream handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: stream dial: %w", err)
	}

	s := &deepgramStream{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type streamMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	done      chan struct{}
}

func (s *deepgramStream) Send(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

func (s *deepgramStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramStream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.setErr(fmt.Errorf("deepgram: read: %w", err))
				}
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			continue
		}

		select {
		case s.events <- Event{Text: text, IsFinal: msg.IsFinal, SpeechFinal: msg.SpeechFinal}:
		case <-s.done:
			return
		}
	}
}
