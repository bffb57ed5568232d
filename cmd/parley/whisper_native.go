//go:build whisper_native

package main

import (
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

func init() {
	optionalProviders = append(optionalProviders, registerNativeWhisper)
}

// registerNativeWhisper adds the in-process whisper.cpp transcriber. The
// entry's model field is the path of the model file.
func registerNativeWhisper(reg *config.Registry) {
	reg.RegisterBatchSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(entry.Model, opts...)
	})
}
