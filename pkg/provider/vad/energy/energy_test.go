package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

const sampleRate = 16000

var testCfg = vad.Config{SampleRate: sampleRate, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.35}

// makeSpeechFrame returns 20 ms of a 440 Hz sine with the given amplitude.
func makeSpeechFrame(amplitude float64) []byte {
	n := sampleRate / 50
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}
	return audio.Int16sToBytes(pcm)
}

func makeSilenceFrame() []byte { return make([]byte, sampleRate/50*2) }

func TestSession_Hysteresis(t *testing.T) {
	t.Parallel()

	eng := energy.New(energy.WithStartFrames(2), energy.WithEndFrames(3))
	sess, err := eng.NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	speech := makeSpeechFrame(10000)
	silence := makeSilenceFrame()

	steps := []struct {
		frame []byte
		want  vad.VADEventType
	}{
		{speech, vad.VADSilence}, // one loud frame is not enough
		{speech, vad.VADSpeechStart},
		{speech, vad.VADSpeechContinue},
		{silence, vad.VADSpeechContinue}, // short pause stays in speech
		{silence, vad.VADSpeechContinue},
		{silence, vad.VADSpeechEnd},
		{silence, vad.VADSilence},
	}
	for i, st := range steps {
		ev, err := sess.ProcessFrame(st.frame)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Fatalf("step %d: want %s, got %s", i, st.want, ev.Type)
		}
	}
}

func TestSession_QuietNoiseIsSilence(t *testing.T) {
	t.Parallel()

	sess, err := energy.New(energy.WithStartFrames(1)).NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	// Amplitude 200 sine has RMS ≈ 141, well under the 300 activity level.
	for range 20 {
		ev, err := sess.ProcessFrame(makeSpeechFrame(200))
		if err != nil {
			t.Fatal(err)
		}
		if ev.IsSpeech() {
			t.Fatalf("want silence for background noise, got %s (p=%.2f)", ev.Type, ev.Probability)
		}
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()

	sess, _ := energy.New(energy.WithStartFrames(1)).NewSession(testCfg)
	if ev, _ := sess.ProcessFrame(makeSpeechFrame(10000)); ev.Type != vad.VADSpeechStart {
		t.Fatalf("want speech start, got %s", ev.Type)
	}
	sess.Reset()
	if ev, _ := sess.ProcessFrame(makeSilenceFrame()); ev.Type != vad.VADSilence {
		t.Fatalf("want silence after reset, got %s", ev.Type)
	}

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := sess.ProcessFrame(makeSilenceFrame()); !errors.Is(err, energy.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{SpeechThreshold: 0.5}},
		{"speech threshold too high", vad.Config{SampleRate: 16000, SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, SpeechThreshold: 0.4, SilenceThreshold: 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := energy.New().NewSession(tt.cfg); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func TestSession_RejectsWrongFrameSize(t *testing.T) {
	t.Parallel()

	sess, _ := energy.New().NewSession(testCfg)
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Fatal("want frame size error")
	}
}
