package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestOutputFormat(t *testing.T) {
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f := p.OutputFormat(); f.SampleRate != 24000 || f.Channels != 1 {
		t.Errorf("want 24000Hz mono, got %+v", f)
	}
}

func TestSynthesizeStream_PostsSpeechRequest(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x10, 0x20}, 3000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["input"] != "Why do you want this role?" {
			t.Errorf("want joined input, got %v", body["input"])
		}
		if body["voice"] != "nova" {
			t.Errorf("want voice nova, got %v", body["voice"])
		}
		if body["response_format"] != "pcm" {
			t.Errorf("want pcm format, got %v", body["response_format"])
		}
		if body["speed"] != 1.5 {
			t.Errorf("want speed 1.5, got %v", body["speed"])
		}
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("key", "", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := make(chan string, 2)
	text <- "Why do you want "
	text <- "this role?"
	close(text)

	out, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "nova", SpeedFactor: 1.5})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for chunk := range out {
		if len(chunk)%2 != 0 {
			t.Errorf("chunk of %d bytes is not sample aligned", len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("want %d bytes of PCM, got %d", len(pcm), len(got))
	}
}

func TestSynthesizeStream_ServerErrorClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad voice","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := New("key", "", WithBaseURL(srv.URL), WithMaxRetries(0))
	text := make(chan string, 1)
	text <- "Hello."
	close(text)

	out, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "nova"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	n := 0
	for chunk := range out {
		n += len(chunk)
	}
	if n != 0 {
		t.Errorf("want no audio, got %d bytes", n)
	}
}

func TestListVoices_Static(t *testing.T) {
	p, _ := New("key", "")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(builtinVoices) {
		t.Errorf("want %d voices, got %d", len(builtinVoices), len(voices))
	}
}
