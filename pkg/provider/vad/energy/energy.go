// Package energy implements [vad.Engine] with a pure-Go RMS energy detector.
//
// Each frame's RMS level is mapped to a pseudo-probability by dividing it by
// a reference level, so the usual probability thresholds apply: with the
// default reference of 600, a SpeechThreshold of 0.5 treats frames above an
// RMS of 300 as speech. Hysteresis (consecutive frame counts on both edges)
// keeps the detector from flickering on short noise bursts and short pauses.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// ErrClosed is returned by ProcessFrame after the session was closed.
var ErrClosed = errors.New("energy vad: session closed")

const (
	defaultReference   = 600.0
	defaultStartFrames = 2
	defaultEndFrames   = 10
)

// Option configures an [Engine].
type Option func(*Engine)

// WithReference sets the RMS level that maps to probability 1.0.
func WithReference(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.reference = rms
		}
	}
}

// WithStartFrames sets how many consecutive speech frames are needed before
// a segment starts. Default: 2.
func WithStartFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.startFrames = n
		}
	}
}

// WithEndFrames sets how many consecutive quiet frames end a segment.
// Default: 10.
func WithEndFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.endFrames = n
		}
	}
}

// Engine creates energy-based VAD sessions. It is read-only after
// construction and safe for concurrent use.
type Engine struct {
	reference   float64
	startFrames int
	endFrames   int
}

// New returns an Engine configured with opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		reference:   defaultReference,
		startFrames: defaultStartFrames,
		endFrames:   defaultEndFrames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.2f must be in [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	expected := 0
	if cfg.FrameSizeMs > 0 {
		expected = cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	}
	return &Session{
		cfg:           cfg,
		reference:     e.reference,
		startFrames:   e.startFrames,
		endFrames:     e.endFrames,
		expectedBytes: expected,
	}, nil
}

// Session is a single-stream energy detector. It is safe for concurrent use.
type Session struct {
	cfg           vad.Config
	reference     float64
	startFrames   int
	endFrames     int
	expectedBytes int

	mu           sync.Mutex
	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if s.expectedBytes > 0 && len(frame) != s.expectedBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.expectedBytes)
	}

	p := audio.RMS(frame) / s.reference
	if p > 1 {
		p = 1
	}
	ev := vad.VADEvent{Probability: p}

	if s.inSpeech {
		if p < s.cfg.SilenceThreshold {
			s.silenceCount++
			if s.silenceCount >= s.endFrames {
				s.inSpeech = false
				s.silenceCount = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.silenceCount = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if p >= s.cfg.SpeechThreshold {
		s.speechCount++
		if s.speechCount >= s.startFrames {
			s.inSpeech = true
			s.speechCount = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.speechCount = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
