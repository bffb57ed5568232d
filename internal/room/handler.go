package room

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/voicecmd"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Registry tracks live rooms. Add fails when no more interviews may run.
type Registry interface {
	Add(r *Room) error
	Remove(id string)
}

// Options configures a [Handler].
type Options struct {
	// Gateway is the interview backend. Required.
	Gateway gateway.Gateway

	// TTS synthesizes prompts. Nil means prompts are shown, never spoken.
	TTS tts.Provider

	// DefaultVoice is used when the interview voice matches nothing.
	DefaultVoice tts.VoiceProfile

	// NewAdapter builds the transcription strategy. Nil means typed answers
	// only.
	NewAdapter func(remote bool) transcribe.Adapter

	// Commands returns the voice command matcher for a new room. Nil, or a
	// nil result, disables voice commands.
	Commands func() *voicecmd.Matcher

	Archive conversation.Archive
	Metrics *observe.Metrics

	// Defaults returns the interview configuration for a new room. It is
	// called once per connection so that reloaded defaults apply to new
	// interviews only.
	Defaults func() turn.Config

	// Registry, if set, receives every room for its lifetime.
	Registry Registry

	// OriginPatterns are the allowed browser origins, see
	// [websocket.AcceptOptions].
	OriginPatterns []string

	// WriteTimeout bounds every frame written to the client. Default 5s.
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests to interview rooms. The candidate is taken
// from the query: name, email, position, template, and optionally interview
// (an existing interview ID) and video=true.
type Handler struct {
	opts Options
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a room handler.
func NewHandler(opts Options) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Handler{opts: opts}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	id := uuid.NewString()

	var cfg turn.Config
	if h.opts.Defaults != nil {
		cfg = h.opts.Defaults()
	}
	cfg.InterviewID = q.Get("interview")
	if cfg.InterviewID == "" {
		cfg.InterviewID = id
	}
	cfg.Candidate = gateway.Candidate{
		Name:       q.Get("name"),
		Email:      q.Get("email"),
		Position:   q.Get("position"),
		TemplateID: q.Get("template"),
	}
	video, _ := strconv.ParseBool(q.Get("video"))

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		slog.Warn("room: accept websocket", "err", err)
		return
	}

	ctx := observe.WithInterview(req.Context(), cfg.InterviewID)
	log := observe.Logger(ctx).With("room", id)

	r := h.newRoom(id, conn, cfg, video)
	if h.opts.Registry != nil {
		if err := h.opts.Registry.Add(r); err != nil {
			log.Warn("room: rejected", "err", err)
			_ = r.orch.End(ctx)
			conn.Close(websocket.StatusTryAgainLater, "too many interviews")
			return
		}
		defer h.opts.Registry.Remove(id)
	}

	log.Info("room: connected", "remote", req.RemoteAddr)
	if err := r.Run(ctx); err != nil {
		log.Warn("room: closed with error", "err", err)
		return
	}
	log.Info("room: closed")
}

func (h *Handler) newRoom(id string, conn *websocket.Conn, cfg turn.Config, video bool) *Room {
	r := &Room{
		id:           id,
		interviewID:  cfg.InterviewID,
		candidate:    cfg.Candidate,
		startedAt:    time.Now(),
		conn:         conn,
		writeTimeout: h.opts.WriteTimeout,
		speechRate:   audio.SpeechFormat.SampleRate,
		pumped:       make(chan struct{}),
		startDone:    make(chan struct{}),
	}
	r.capture = newCaptureSource(id, video, r.writeJSON)
	r.sink = newSpeechSink(id, r.writeJSON, r.write)

	deps := turn.Deps{
		Source:     r.capture,
		Gateway:    h.opts.Gateway,
		NewAdapter: h.opts.NewAdapter,
		Archive:    h.opts.Archive,
		Metrics:    h.opts.Metrics,
	}
	if h.opts.Commands != nil {
		deps.Commands = h.opts.Commands()
	}
	if h.opts.TTS != nil {
		if f := h.opts.TTS.OutputFormat(); f.SampleRate > 0 {
			r.speechRate = f.SampleRate
		}
		metrics := h.opts.Metrics
		deps.Player = speech.NewPlayer(h.opts.TTS, r.sink,
			speech.WithDefaultVoice(h.opts.DefaultVoice),
			speech.WithOnFinished(func(pb *speech.Playback, elapsed time.Duration) {
				metrics.TTSDuration.Record(context.Background(), elapsed.Seconds())
			}),
		)
	}
	r.orch = turn.New(cfg, deps)
	return r
}
