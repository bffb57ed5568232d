package stt

import "time"

// Transcript is a recognition result. Both partial (interim) and final
// transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a committed or an interim transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Clip is one recorded utterance handed to a [Transcriber].
type Clip struct {
	// Data is the encoded audio payload (a WAV file unless ContentType says
	// otherwise).
	Data []byte

	// ContentType is the MIME type of Data, e.g. "audio/wav".
	ContentType string

	// Filename is the name reported in multipart uploads.
	Filename string

	// Language is the BCP-47 recognition hint. May be empty.
	Language string

	// Duration is the length of the recorded audio.
	Duration time.Duration
}
