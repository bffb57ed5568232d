package opus_test

import (
	"math"
	"testing"

	"layeh.com/gopus"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/opus"
)

func TestDecoder_DecodesBrowserPacket(t *testing.T) {
	t.Parallel()

	const rate = opus.DefaultSampleRate
	frameSize := opus.FrameSize(rate)

	pcm := make([]int16, frameSize)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	packet, err := enc.Encode(pcm, frameSize, 4000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec, err := opus.NewDecoder(rate, 1)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	frame, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.SampleRate != rate || frame.Channels != 1 {
		t.Errorf("want %dHz mono, got %dHz %dch", rate, frame.SampleRate, frame.Channels)
	}
	if got := len(frame.Data) / 2; got != frameSize {
		t.Errorf("want %d samples, got %d", frameSize, got)
	}
	if audio.RMS(frame.Data) == 0 {
		t.Error("want non-silent decoded audio")
	}
}

func TestNewDecoder_RejectsChannelCount(t *testing.T) {
	t.Parallel()

	if _, err := opus.NewDecoder(48000, 3); err == nil {
		t.Fatal("want error for 3 channels")
	}
}
