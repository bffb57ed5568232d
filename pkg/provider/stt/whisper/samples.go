package whisper

import (
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// clipSamples decodes a WAV clip into the 16 kHz mono float32 samples
// whisper.cpp consumes. Stereo and multichannel input is downmixed and other
// rates are resampled.
func clipSamples(wav []byte) ([]float32, error) {
	pcm, f, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("whisper: decode clip: %w", err)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("whisper: invalid clip format %s", f)
	}

	conv := audio.FormatConverter{Target: audio.SpeechFormat}
	frame := conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: f.SampleRate, Channels: f.Channels})

	ints := audio.BytesToInt16s(frame.Data)
	out := make([]float32, len(ints))
	for i, v := range ints {
		out[i] = float32(v) / 32768
	}
	return out, nil
}
