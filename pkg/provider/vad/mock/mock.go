// Package mock provides a scriptable vad.Engine for tests.
//
// A Session either replays Script or, with SpeechAbove set, classifies each
// frame by its RMS level so tests can drive speech and silence with plain
// PCM buffers:
//
//	eng := &mock.Engine{Session: &mock.Session{SpeechAbove: 1000}}
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent Session when it is nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns Session or Err.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the configs passed to NewSession so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session is a vad.SessionHandle whose answers are set up front.
type Session struct {
	// SpeechAbove, when positive, marks frames with RMS at or above it as
	// speech and everything else as silence. Script is ignored then.
	SpeechAbove float64

	// Script supplies successive events; afterwards every frame is silence.
	Script []vad.VADEvent

	// Err fails every ProcessFrame call.
	Err error

	mu     sync.Mutex
	frames int
	resets int
	closed bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame classifies frame.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	switch {
	case s.Err != nil:
		return vad.VADEvent{}, s.Err
	case s.SpeechAbove > 0:
		if audio.RMS(frame) >= s.SpeechAbove {
			return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}, nil
		}
	case len(s.Script) > 0:
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return vad.VADEvent{Type: vad.VADSilence}, nil
}

// Reset counts the call.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Frames returns how many frames were classified.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
