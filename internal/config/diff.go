package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterviewChanged is true if any interview default changed. New
	// interviews pick up the new defaults; running ones keep theirs.
	InterviewChanged bool
	InterviewFields  []string

	VoiceCommandsChanged bool

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.InterviewChanged && !d.VoiceCommandsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.InterviewFields = diffInterview(&old.Interview, &new.Interview)
	d.InterviewChanged = len(d.InterviewFields) > 0

	if old.VoiceCommands.On() != new.VoiceCommands.On() || old.VoiceCommands.Threshold != new.VoiceCommands.Threshold {
		d.VoiceCommandsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MaxInterviews != new.Server.MaxInterviews ||
		old.Server.TraceSampleRatio != new.Server.TraceSampleRatio ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Gateway != new.Gateway {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	if !sameProviders(&old.Providers, &new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}

	return d
}

// diffInterview returns the YAML names of the interview fields that differ.
func diffInterview(old, new *InterviewConfig) []string {
	var fields []string
	if old.SpeakPrompts() != new.SpeakPrompts() {
		fields = append(fields, "tts_enabled")
	}
	if old.UseRemoteTranscription != new.UseRemoteTranscription {
		fields = append(fields, "use_remote_transcription")
	}
	if old.SilenceThresholdMs != new.SilenceThresholdMs {
		fields = append(fields, "silence_threshold_ms")
	}
	if old.Muted != new.Muted {
		fields = append(fields, "muted")
	}
	if old.Language != new.Language {
		fields = append(fields, "language")
	}
	if old.Voice != new.Voice {
		fields = append(fields, "voice")
	}
	if old.MaxStartFailures != new.MaxStartFailures {
		fields = append(fields, "max_start_failures")
	}
	if old.RecognizerRestarts != new.RecognizerRestarts {
		fields = append(fields, "recognizer_restarts")
	}
	if old.AcquireTimeout != new.AcquireTimeout {
		fields = append(fields, "acquire_timeout")
	}
	return fields
}

// sameProviders compares provider selections by name, endpoint and model.
// Option maps are not compared.
func sameProviders(a, b *ProvidersConfig) bool {
	key := func(e ProviderEntry) [4]string { return [4]string{e.Name, e.APIKey, e.BaseURL, e.Model} }
	list := func(es []ProviderEntry) [][4]string {
		out := make([][4]string, len(es))
		for i, e := range es {
			out[i] = key(e)
		}
		return out
	}
	return key(a.STT) == key(b.STT) && key(a.VAD) == key(b.VAD) &&
		slices.Equal(list(a.STTFallbacks), list(b.STTFallbacks)) &&
		slices.Equal(list(a.BatchSTT), list(b.BatchSTT)) &&
		slices.Equal(list(a.TTS), list(b.TTS))
}
