package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Gateway: config.GatewayConfig{BaseURL: "http://gw"},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram"},
			TTS: []config.ProviderEntry{{Name: "elevenlabs"}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got restart for %v", d.RestartRequired)
	}
}

func TestDiff_InterviewFields(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name   string
		mutate func(*config.InterviewConfig)
		want   string
	}{
		{"tts", func(c *config.InterviewConfig) { c.TTSEnabled = &off }, "tts_enabled"},
		{"remote", func(c *config.InterviewConfig) { c.UseRemoteTranscription = true }, "use_remote_transcription"},
		{"threshold", func(c *config.InterviewConfig) { c.SilenceThresholdMs = 3000 }, "silence_threshold_ms"},
		{"muted", func(c *config.InterviewConfig) { c.Muted = true }, "muted"},
		{"voice", func(c *config.InterviewConfig) { c.Voice.Name = "Ava" }, "voice"},
		{"acquire", func(c *config.InterviewConfig) { c.AcquireTimeout = time.Minute }, "acquire_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(&new.Interview)
			d := config.Diff(baseConfig(), new)
			if !d.InterviewChanged {
				t.Fatal("expected InterviewChanged=true")
			}
			if !slices.Equal(d.InterviewFields, []string{tt.want}) {
				t.Errorf("want fields [%s], got %v", tt.want, d.InterviewFields)
			}
		})
	}
}

func TestDiff_ExplicitDefaultIsNoChange(t *testing.T) {
	t.Parallel()
	on := true
	new := baseConfig()
	new.Interview.TTSEnabled = &on
	if d := config.Diff(baseConfig(), new); d.InterviewChanged {
		t.Errorf("tts_enabled: true equals the default, got %v", d.InterviewFields)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Gateway.BaseURL = "http://other"
	new.Providers.TTS = append(new.Providers.TTS, config.ProviderEntry{Name: "openai"})
	new.Archive.PostgresDSN = "postgres://db"
	new.Server.MaxInterviews = 5

	d := config.Diff(baseConfig(), new)
	want := []string{"server", "gateway", "providers", "archive"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("want restart for %v, got %v", want, d.RestartRequired)
	}
	if d.InterviewChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes %+v", d)
	}
}

func TestDiff_VoiceCommands(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.VoiceCommands.Threshold = 0.5
	if d := config.Diff(baseConfig(), new); !d.VoiceCommandsChanged {
		t.Error("expected VoiceCommandsChanged=true")
	}
}
