package health_test

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

	"github.com/MrWong99/parley/internal/health"
)

func ok(context.Context) error { return nil }

func serve(t *testing.T, h *health.Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (int, health.Report) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("want JSON content type, got %q", ct)
	}
	var rep health.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	failing := health.Checker{Name: "gateway", Check: func(context.Context) error { return errors.New("down") }}
	srv := serve(t, health.New(failing))

	status, rep := get(t, srv, "/healthz")
	if status != http.StatusOK {
		t.Errorf("want 200, got %d", status)
	}
	if rep.Status != "ok" || len(rep.Checks) != 0 {
		t.Errorf("want bare ok, got %+v", rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				{Name: "gateway", Check: ok},
				{Name: "capacity", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"gateway": "ok", "capacity": "ok"},
		},
		{
			name: "one fails",
			checkers: []health.Checker{
				{Name: "gateway", Check: ok},
				{Name: "capacity", Check: func(context.Context) error { return errors.New("full") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"gateway": "ok", "capacity": "fail: full"},
		},
		{
			name: "panic",
			checkers: []health.Checker{
				{Name: "archive", Check: func(context.Context) error { panic("boom") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"archive": "fail: check panicked: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, health.New(tt.checkers...))

			status, rep := get(t, srv, "/readyz")
			if status != tt.wantStatus {
				t.Errorf("want status %d, got %d", tt.wantStatus, status)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %s: want %q, got %q", name, want, got)
				}
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Errorf("want %d checks, got %v", len(tt.wantChecks), rep.Checks)
			}
		})
	}
}

func TestEvaluate_RunsConcurrently(t *testing.T) {
	t.Parallel()

	// Each check waits until both have started; sequential evaluation would
	// hit the deadline.
	var started atomic.Int32
	both := make(chan struct{})
	check := func(ctx context.Context) error {
		if started.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h := health.New(
		health.Checker{Name: "a", Check: check},
		health.Checker{Name: "b", Check: check},
	).WithTimeout(time.Second)

	if rep := h.Evaluate(context.Background()); rep.Status != "ok" {
		t.Errorf("want ok, got %+v", rep)
	}
}

func TestEvaluate_Timeout(t *testing.T) {
	t.Parallel()

	// The check ignores its context; the handler must not wait for it.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h := health.New(health.Checker{Name: "stuck", Check: func(context.Context) error {
		<-release
		return nil
	}}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	rep := h.Evaluate(context.Background())
	if rep.Status != "fail" {
		t.Errorf("want fail, got %+v", rep)
	}
	if !strings.Contains(rep.Checks["stuck"], context.DeadlineExceeded.Error()) {
		t.Errorf("want deadline error, got %q", rep.Checks["stuck"])
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("want prompt return, took %s", elapsed)
	}
}
