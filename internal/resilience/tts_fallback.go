package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// The group reports the primary's output format. Audio from a fallback with a
// different sample rate is resampled so consumers always see one format.
type TTSFallback struct {
	group  *FallbackGroup[tts.Provider]
	format audio.Format
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		format: primary.OutputFormat(),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// OutputFormat implements [tts.Provider].
func (f *TTSFallback) OutputFormat() audio.Format { return f.format }

// SynthesizeStream consumes text fragments and returns a channel of audio bytes,
// trying the first healthy provider. Only the initial stream setup is covered by
// failover; mid-stream errors close the channel early.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		ch, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		src := p.OutputFormat()
		if src.SampleRate == f.format.SampleRate || src.SampleRate == 0 {
			return ch, nil
		}
		return resampleStream(ch, src.SampleRate, f.format.SampleRate), nil
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// resampleStream converts mono PCM16 chunks from src to dst Hz. Odd trailing
// bytes are carried into the next chunk so samples never split.
func resampleStream(in <-chan []byte, src, dst int) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		var carry []byte
		for chunk := range in {
			data := append(carry, chunk...)
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)
			if even == 0 {
				continue
			}
			if pcm := audio.ResampleMono16(data[:even], src, dst); len(pcm) > 0 {
				out <- pcm
			}
		}
	}()
	return out
}
