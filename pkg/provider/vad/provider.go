// Package vad defines the Engine interface for voice activity detection
// backends used by the silence detector.
//
// A VAD engine classifies individual PCM frames as speech or silence and keeps
// per-stream smoothing state in a [SessionHandle]. ProcessFrame is synchronous
// and must not block, so it can run inline in the audio subscriber loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Thresholds are expressed as
// speech probabilities in [0.0, 1.0].
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected frame duration in milliseconds. Zero accepts
	// frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// starts to decay towards silence. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one little-endian int16 PCM frame and returns the
	// detection result.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new session with the given configuration. It returns
	// an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
