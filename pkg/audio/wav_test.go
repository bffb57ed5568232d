package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q", wav[:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("want sample rate 16000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 320 {
		t.Errorf("want data size 320, got %d", got)
	}
	if len(wav) != 44+320 {
		t.Errorf("want %d bytes, got %d", 44+320, len(wav))
	}
}

func TestParseWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := audio.Int16sToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 24000, Channels: 1})

	got, f, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if f.SampleRate != 24000 || f.Channels != 1 {
		t.Errorf("want 24000Hz mono, got %+v", f)
	}
	if string(got) != string(pcm) {
		t.Errorf("payload mismatch")
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"too short": []byte("RIFF"),
		"not riff":  []byte("OggS0000WAVE0000"),
		"no data":   []byte("RIFF\x04\x00\x00\x00WAVE"),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.ParseWAV(in); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}
