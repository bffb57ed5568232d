package room

import (
	"time"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/turn"
)

// Control frame types sent by the browser.
const (
	msgCapture      = "capture"
	msgMute         = "mute"
	msgStop         = "stop"
	msgAnswer       = "answer"
	msgSettings     = "settings"
	msgEnd          = "end"
	msgPlaybackDone = "playback_done"
)

// Frame types sent to the browser besides the orchestrator events.
const (
	msgHello          = "hello"
	msgCaptureRequest = "capture_request"
	msgCaptureStop    = "capture_stop"
	msgSpeechStart    = "speech_start"
	msgSpeechEnd      = "speech_end"
	msgSpeechStop     = "speech_stop"
)

// Capture encodings accepted in binary frames.
const (
	EncodingPCM16 = "pcm16"
	EncodingOpus  = "opus"
)

// controlFrame is any JSON message from the browser. Only the fields of the
// given type are set.
type controlFrame struct {
	Type string `json:"type"`

	// capture
	Granted    *bool  `json:"granted,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Video      bool   `json:"video,omitempty"`

	// mute
	Muted *bool `json:"muted,omitempty"`

	// answer
	Text string `json:"text,omitempty"`

	// settings
	Settings *settingsFrame `json:"settings,omitempty"`

	// playback_done
	Seq uint64 `json:"seq,omitempty"`
}

type settingsFrame struct {
	TTSEnabled             *bool `json:"tts_enabled,omitempty"`
	UseRemoteTranscription *bool `json:"use_remote_transcription,omitempty"`
	SilenceThresholdMs     *int  `json:"silence_threshold_ms,omitempty"`
	Muted                  *bool `json:"muted,omitempty"`
}

func (s *settingsFrame) update() turn.SettingsUpdate {
	u := turn.SettingsUpdate{
		TTSEnabled:             s.TTSEnabled,
		UseRemoteTranscription: s.UseRemoteTranscription,
		Muted:                  s.Muted,
	}
	if s.SilenceThresholdMs != nil && *s.SilenceThresholdMs > 0 {
		d := time.Duration(*s.SilenceThresholdMs) * time.Millisecond
		u.SilenceThreshold = &d
	}
	return u
}

// eventFrame is any JSON message to the browser.
type eventFrame struct {
	Type string `json:"type"`

	State string `json:"state,omitempty"`
	Muted *bool  `json:"muted,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Pending    bool   `json:"pending,omitempty"`

	Entry *conversation.Entry `json:"entry,omitempty"`

	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	Answer      string `json:"answer,omitempty"`
	ReportID    string `json:"report_id,omitempty"`

	RoomID      string `json:"room_id,omitempty"`
	InterviewID string `json:"interview_id,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Video       bool   `json:"video,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
}

// frameFor converts an orchestrator event to its wire form.
func frameFor(ev turn.Event) eventFrame {
	muted := ev.Muted
	f := eventFrame{
		Type:  string(ev.Kind),
		State: ev.State.String(),
		Muted: &muted,
	}
	switch ev.Kind {
	case turn.EventTranscript:
		f.Transcript, f.Final, f.Pending = ev.Transcript, ev.Final, ev.Pending
	case turn.EventEntry:
		e := ev.Entry
		f.Entry = &e
	case turn.EventNotice:
		f.Message = ev.Message
	case turn.EventError:
		f.Message, f.Recoverable, f.Answer = ev.Message, ev.Recoverable, ev.Answer
		if ev.Err != nil {
			f.Error = ev.Err.Error()
		}
	case turn.EventEnded:
		f.ReportID = ev.ReportID
	}
	return f
}
