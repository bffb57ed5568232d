package audio

import (
	"context"
	"time"
)

// AudioFrame is a single chunk of little-endian int16 PCM flowing from a
// capture stream to the silence detector and the transcription adapter, or
// from a speech synthesizer to the client.
type AudioFrame struct {
	// Data holds interleaved int16 PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame, or zero when the frame
// carries no format information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Sink receives synthesized audio for playback on the client.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// WriteAudio delivers one chunk of PCM audio. It blocks until the chunk is
	// accepted or ctx is done.
	WriteAudio(ctx context.Context, frame AudioFrame) error
}
