package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"deepgram"},
	"batch_stt": {"openai", "whisper"},
	"tts":       {"elevenlabs", "openai", "remote"},
	"vad":       {"energy"},
}

// envRef matches ${VAR} references. Bare $VAR is left alone so that secrets
// containing a dollar sign survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills zero values with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxInterviews == 0 {
		cfg.Server.MaxInterviews = DefaultMaxInterviews
	}

	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = DefaultGatewayTimeout
	}
	if cfg.Gateway.MaxFailures == 0 {
		cfg.Gateway.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Gateway.ResetTimeout == 0 {
		cfg.Gateway.ResetTimeout = DefaultBreakerReset
	}

	iv := &cfg.Interview
	if iv.SilenceThresholdMs == 0 {
		iv.SilenceThresholdMs = DefaultSilenceThresholdMs
	}
	if iv.Language == "" {
		iv.Language = DefaultLanguage
	}
	if iv.MaxStartFailures == 0 {
		iv.MaxStartFailures = DefaultMaxStartFailures
	}
	if iv.RecognizerRestarts == 0 {
		iv.RecognizerRestarts = DefaultRecognizerRestarts
	}
	if iv.AcquireTimeout == 0 {
		iv.AcquireTimeout = DefaultAcquireTimeout
	}

	if cfg.VoiceCommands.Threshold == 0 {
		cfg.VoiceCommands.Threshold = DefaultVoiceCommandMinimum
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxInterviews < 0 {
		errs = append(errs, fmt.Errorf("server.max_interviews %d must not be negative", cfg.Server.MaxInterviews))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.BatchSTT {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.batch_stt[%d].name is required", i))
		}
		validateProviderName("batch_stt", e.Name)
	}
	for i, e := range cfg.Providers.TTS {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.BatchSTT) == 0 {
		slog.Warn("no speech recognizer configured; spoken answers rely on the gateway transcriber")
	}
	if len(cfg.Providers.TTS) == 0 && cfg.Interview.SpeakPrompts() {
		slog.Warn("no TTS provider configured; prompts will be shown but not spoken")
	}

	// Gateway
	if cfg.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	} else if u, err := url.Parse(cfg.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q is not an absolute URL", cfg.Gateway.BaseURL))
	}
	if cfg.Gateway.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout %s must not be negative", cfg.Gateway.Timeout))
	}

	// Interview defaults
	iv := cfg.Interview
	if iv.SilenceThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("interview.silence_threshold_ms %d must not be negative", iv.SilenceThresholdMs))
	}
	if iv.Voice.Rate != 0 && (iv.Voice.Rate < 0.5 || iv.Voice.Rate > 2.0) {
		errs = append(errs, fmt.Errorf("interview.voice.rate %.2f is out of range [0.5, 2.0]", iv.Voice.Rate))
	}
	if iv.Voice.Pitch < 0 || iv.Voice.Pitch > 2 {
		errs = append(errs, fmt.Errorf("interview.voice.pitch %.2f is out of range [0, 2]", iv.Voice.Pitch))
	}
	if iv.Voice.Volume < 0 || iv.Voice.Volume > 1 {
		errs = append(errs, fmt.Errorf("interview.voice.volume %.2f is out of range [0, 1]", iv.Voice.Volume))
	}
	if iv.MaxStartFailures < 0 {
		errs = append(errs, fmt.Errorf("interview.max_start_failures %d must not be negative", iv.MaxStartFailures))
	}
	if iv.UseRemoteTranscription && len(cfg.Providers.BatchSTT) == 0 {
		slog.Info("interview.use_remote_transcription without providers.batch_stt; the gateway transcribes recordings")
	}

	// Voice commands
	if t := cfg.VoiceCommands.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("voice_commands.threshold %.2f is out of range (0, 1]", t))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
