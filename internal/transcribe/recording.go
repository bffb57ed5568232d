package transcribe

import (
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultMaxRecording bounds a single batch answer.
const DefaultMaxRecording = 5 * time.Minute

// voicedRMS is the RMS level at which a recorded frame counts as speech.
const voicedRMS = 300.0

// minVoiced is the number of voiced frames a recording needs before it is
// considered an utterance.
const minVoiced = 3

// RecordingSession is a bounded buffer of PCM audio accumulated between the
// start and the stop of a batch turn. Frames beyond the size limit are
// dropped. It is safe for concurrent use.
type RecordingSession struct {
	format   audio.Format
	maxBytes int

	mu      sync.Mutex
	buf     []byte
	voiced  int
	dropped int
	closed  bool
}

// NewRecordingSession creates a recording for audio in format, capped at max.
func NewRecordingSession(format audio.Format, max time.Duration) *RecordingSession {
	if max <= 0 {
		max = DefaultMaxRecording
	}
	bytesPerSec := format.SampleRate * format.Channels * 2
	return &RecordingSession{
		format:   format,
		maxBytes: int(max.Seconds() * float64(bytesPerSec)),
	}
}

// Write appends the frame's PCM. It returns false when the frame was dropped
// because the session is full or already flushed.
func (r *RecordingSession) Write(f audio.AudioFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.buf)+len(f.Data) > r.maxBytes {
		r.dropped++
		return false
	}
	r.buf = append(r.buf, f.Data...)
	if audio.RMS(f.Data) >= voicedRMS {
		r.voiced++
	}
	return true
}

// HasSpeech reports whether enough voiced frames were recorded.
func (r *RecordingSession) HasSpeech() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.voiced >= minVoiced
}

// Duration returns the length of the recorded audio.
func (r *RecordingSession) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durationLocked()
}

func (r *RecordingSession) durationLocked() time.Duration {
	bps := r.format.SampleRate * r.format.Channels * 2
	if bps == 0 {
		return 0
	}
	return time.Duration(len(r.buf)) * time.Second / time.Duration(bps)
}

// Flush finalizes the recording into a WAV clip. After Flush the session
// accepts no more audio. An empty recording yields a clip with no data.
func (r *RecordingSession) Flush(language string) stt.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clip := stt.Clip{
		ContentType: "audio/wav",
		Filename:    "answer.wav",
		Language:    language,
		Duration:    r.durationLocked(),
	}
	if len(r.buf) > 0 {
		clip.Data = audio.EncodeWAV(r.buf, r.format)
	}
	r.buf = nil
	return clip
}

// Discard drops the recorded audio without producing a clip.
func (r *RecordingSession) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.buf = nil
}
