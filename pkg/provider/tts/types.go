package tts

// VoiceProfile describes the voice and prosody used for one utterance.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default). Providers that have
	// no pitch control ignore it.
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default). Zero means
	// the provider default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Speed returns SpeedFactor clamped to [0.5, 2.0], or 1.0 when unset.
func (v VoiceProfile) Speed() float64 {
	switch {
	case v.SpeedFactor == 0:
		return 1.0
	case v.SpeedFactor < 0.5:
		return 0.5
	case v.SpeedFactor > 2.0:
		return 2.0
	default:
		return v.SpeedFactor
	}
}
