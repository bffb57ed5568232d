// Package opus decodes Opus packets sent by browser clients into int16 PCM
// frames suitable for an [audio.Stream].
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/parley/pkg/audio"
)

// Browser encoders default to 48 kHz with 20 ms packets.
const (
	DefaultSampleRate = 48000
	frameSizeMs       = 20
	// maxFrameMs is the longest Opus packet duration allowed by RFC 6716.
	maxFrameMs = 120
)

// Decoder wraps a gopus decoder for a single capture stream. Opus decoding is
// stateful, so each stream needs its own Decoder.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
}

// NewDecoder creates a decoder producing PCM at sampleRate with the given
// number of channels (1 or 2).
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Format returns the PCM format produced by [Decoder.Decode].
func (d *Decoder) Format() audio.Format {
	return audio.Format{SampleRate: d.sampleRate, Channels: d.channels}
}

// Decode decodes one Opus packet into a PCM frame.
func (d *Decoder) Decode(packet []byte) (audio.AudioFrame, error) {
	maxSamples := d.sampleRate * maxFrameMs / 1000
	pcm, err := d.dec.Decode(packet, maxSamples, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.AudioFrame{
		Data:       audio.Int16sToBytes(pcm),
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}

// FrameSize returns the per-channel sample count of a standard 20 ms packet
// at sampleRate.
func FrameSize(sampleRate int) int {
	return sampleRate * frameSizeMs / 1000
}
