package transcribe

import (
	"time"

	"github.com/MrWong99/parley/internal/session"
)

// DefaultBatchTimeout bounds one remote transcription request.
const DefaultBatchTimeout = 30 * time.Second

type options struct {
	language     string
	restart      session.RestartConfig
	maxRecording time.Duration
	timeout      time.Duration
}

// Option configures an [Incremental] or [Batch] adapter.
type Option func(*options)

// WithLanguage sets the BCP-47 recognition hint.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithRestart configures how an incremental recognizer that stops on its own
// is restarted. Each turn gets a fresh budget.
func WithRestart(cfg session.RestartConfig) Option {
	return func(o *options) { o.restart = cfg }
}

// WithMaxRecording caps the audio a batch turn keeps.
func WithMaxRecording(d time.Duration) Option {
	return func(o *options) { o.maxRecording = d }
}

// WithTimeout bounds a single batch transcription request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		maxRecording: DefaultMaxRecording,
		timeout:      DefaultBatchTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
