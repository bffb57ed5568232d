package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// backends builds a group over named string entries, primary first.
func backends(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	down := errors.New("down")
	tests := []struct {
		name      string
		failing   map[string]error
		wantTried []string
		wantErr   []error
		notErr    error
	}{
		{
			name:      "primary answers",
			wantTried: []string{"whisper"},
		},
		{
			name:      "falls through to next",
			failing:   map[string]error{"whisper": down},
			wantTried: []string{"whisper", "openai"},
		},
		{
			name:      "skips to last",
			failing:   map[string]error{"whisper": down, "openai": down},
			wantTried: []string{"whisper", "openai", "gateway"},
		},
		{
			name:      "all fail",
			failing:   map[string]error{"whisper": down, "openai": down, "gateway": errTest},
			wantTried: []string{"whisper", "openai", "gateway"},
			wantErr:   []error{ErrAllFailed, errTest},
		},
		{
			name:      "cancellation stops the walk",
			failing:   map[string]error{"whisper": context.Canceled},
			wantTried: []string{"whisper"},
			wantErr:   []error{context.Canceled},
			notErr:    ErrAllFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := backends(FallbackConfig{}, "whisper", "openai", "gateway")

			var tried []string
			err := fg.Execute(func(v string) error {
				tried = append(tried, v)
				return tt.failing[v]
			})

			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("want tried %v, got %v", tt.wantTried, tried)
			}
			if len(tt.wantErr) == 0 && err != nil {
				t.Fatalf("want nil error, got %v", err)
			}
			for _, want := range tt.wantErr {
				if !errors.Is(err, want) {
					t.Errorf("want error wrapping %v, got %v", want, err)
				}
			}
			if tt.notErr != nil && errors.Is(err, tt.notErr) {
				t.Errorf("want error not wrapping %v, got %v", tt.notErr, err)
			}
		})
	}
}

func TestFallbackGroup_NamesAndPrimary(t *testing.T) {
	t.Parallel()

	fg := backends(FallbackConfig{}, "deepgram", "backup")
	if got := fg.Names(); !slices.Equal(got, []string{"deepgram", "backup"}) {
		t.Errorf("want [deepgram backup], got %v", got)
	}
	if got := fg.Primary(); got != "deepgram" {
		t.Errorf("want primary deepgram, got %q", got)
	}
}

func TestFallbackGroup_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()

	fg := backends(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, "elevenlabs", "openai")

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "elevenlabs" {
				return errTest
			}
			return nil
		})
	}

	var tried []string
	if err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tried, []string{"openai"}) {
		t.Errorf("want only openai tried while elevenlabs is open, got %v", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(16000, "narrow", FallbackConfig{})
	fg.AddFallback("wide", 48000)

	got, err := ExecuteWithResult(fg, func(rate int) (string, error) {
		if rate == 16000 {
			return "", errTest
		}
		return "served at 48k", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "served at 48k" {
		t.Errorf("want result from wide, got %q", got)
	}

	_, err = ExecuteWithResult(fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("want ErrAllFailed, got %v", err)
	}
}
