// Package stt defines the contracts for speech-to-text backends.
//
// Two shapes are supported, matching the two transcription strategies of the
// interview engine:
//
//   - [Provider] opens a continuous recognition session ([SessionHandle]) that
//     accepts PCM frames and emits low-latency partials and committed finals.
//     A recognizer may end a session on its own (idle timeouts, network
//     resets); callers detect this by the Finals channel closing before they
//     called Close.
//   - [Transcriber] takes one recorded [Clip] and returns its text in a single
//     request/response round-trip.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition locale for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Recognizers expect 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider apply its default.
	Language string
}

// SessionHandle is an open streaming recognition session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit PCM matching StreamConfig. Calling
	// SendAudio after the session ended returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. They may be replaced by later
	// partials and must never be committed to a transcript. The channel is
	// closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. The channel is closed when the
	// session ends, whether through Close or because the recognizer stopped.
	Finals() <-chan Transcript

	// Close flushes pending audio, waits for outstanding finals and releases
	// the session. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming recognizer.
type Provider interface {
	// StartStream opens a new recognition session. The returned handle is
	// ready to accept audio immediately. The caller owns the handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber is the abstraction over batch transcription backends.
type Transcriber interface {
	// Transcribe returns the text spoken in clip. An empty string with a nil
	// error means the backend heard no speech.
	Transcribe(ctx context.Context, clip Clip) (string, error)
}
