package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

func mustClient(t *testing.T, url string, opts ...Option) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(url, opts...)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPClient(""); err == nil {
		t.Error("want error for empty base URL")
	}
	c := mustClient(t, "http://backend.local/api/")
	if c.baseURL != "http://backend.local/api" {
		t.Errorf("want trailing slash trimmed, got %q", c.baseURL)
	}
}

func TestHTTPClient_InterviewFlow(t *testing.T) {
	t.Parallel()

	var answers atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/interviews":
			var req struct {
				Candidate Candidate `json:"candidate"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Candidate.Name != "Ada" {
				http.Error(w, `{"error":"bad candidate"}`, http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"session_id":"s-1","prompt":"Introduce yourself."}`))
		case "/interviews/s-1/answers":
			var req struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if answers.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"next_prompt":"Why Go?"}`))
				return
			}
			_, _ = w.Write([]byte(`{"report_id":"r-9"}`))
		case "/interviews/s-1/end":
			_, _ = w.Write([]byte(`{"report_id":"r-9"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, WithAPIKey("tok"))
	ctx := context.Background()

	started, err := c.StartInterview(ctx, Candidate{Name: "Ada"})
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if started.SessionID != "s-1" || started.FirstPrompt != "Introduce yourself." {
		t.Errorf("unexpected start reply %+v", started)
	}

	reply, err := c.SubmitAnswer(ctx, "s-1", "I am Ada.")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if reply.Done() || reply.NextPrompt != "Why Go?" {
		t.Errorf("want next prompt, got %+v", reply)
	}

	reply, err = c.SubmitAnswer(ctx, "s-1", "Because.")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !reply.Done() || reply.ReportID != "r-9" {
		t.Errorf("want terminal reply, got %+v", reply)
	}

	ended, err := c.EndInterview(ctx, "s-1")
	if err != nil {
		t.Fatalf("EndInterview: %v", err)
	}
	if ended.ReportID != "r-9" {
		t.Errorf("want report r-9, got %q", ended.ReportID)
	}
}

func TestHTTPClient_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/interviews/gone/answers":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such interview"}`))
		case "/interviews/empty/answers":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream exploded"))
		}
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.SubmitAnswer(ctx, "gone", "hi")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "no such interview") {
		t.Errorf("want backend message in error, got %v", err)
	}

	if _, err := c.SubmitAnswer(ctx, "empty", "hi"); err == nil {
		t.Error("want error for reply without prompt or report")
	}

	_, err = c.EndInterview(ctx, "s-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream exploded" {
		t.Errorf("want APIError 502 with raw message, got %v", err)
	}
	if !apiErr.Temporary() {
		t.Error("want 502 temporary")
	}
}

func TestHTTPClient_TranscribeRemote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "answer.wav" || r.FormValue("language") != "en-US" {
			t.Errorf("unexpected upload %q lang %q", hdr.Filename, r.FormValue("language"))
		}
		_, _ = w.Write([]byte(`{"transcript":"  I like channels.  "}`))
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL)
	text, err := Transcriber(c).Transcribe(context.Background(), stt.Clip{Data: []byte("RIFF...."), Language: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "I like channels." {
		t.Errorf("want trimmed transcript, got %q", text)
	}

	if text, err := c.TranscribeRemote(context.Background(), stt.Clip{}); err != nil || text != "" {
		t.Errorf("want empty clip short-circuited, got %q %v", text, err)
	}
}

func TestHTTPClient_Breaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/interviews/bad/answers" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL, WithBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))
	ctx := context.Background()

	// Client errors never open the breaker.
	for range 3 {
		if _, err := c.SubmitAnswer(ctx, "bad", "x"); errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatal("want 4xx not to open the breaker")
		}
	}

	for range 2 {
		_, _ = c.SubmitAnswer(ctx, "s-1", "x")
	}
	before := calls.Load()
	if _, err := c.SubmitAnswer(ctx, "s-1", "x"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("want ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != before {
		t.Error("want no request while the breaker is open")
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	t.Parallel()

	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := mustClient(t, srv.URL)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("want ping error while unhealthy")
	}
	healthy.Store(true)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSpanPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, want string
	}{
		{"/interviews", "/interviews"},
		{"/interviews/sess%2F1/answers", "/interviews/{id}/answers"},
		{"/interviews/abc/end", "/interviews/{id}/end"},
		{"/transcriptions", "/transcriptions"},
	}
	for _, tt := range tests {
		if got := spanPath(tt.path); got != tt.want {
			t.Errorf("spanPath(%q): want %q, got %q", tt.path, tt.want, got)
		}
	}
}

func TestHTTPClient_PropagatesTrace(t *testing.T) {
	t.Parallel()
	var traceparent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
		w.Write([]byte(`{"session_id":"s","prompt":"p"}`))
	}))
	defer srv.Close()

	// A remote parent makes the span context valid even with the no-op
	// global tracer.
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	if _, err := mustClient(t, srv.URL).StartInterview(ctx, Candidate{Name: "Ada"}); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	got, _ := traceparent.Load().(string)
	if !strings.Contains(got, sc.TraceID().String()) {
		t.Errorf("want traceparent with trace %s, got %q", sc.TraceID(), got)
	}
}
