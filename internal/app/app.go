// Package app wires all Parley subsystems into a running interview server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// ends every running interview and tears everything down in order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithArchive, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/conversation/postgres"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/silence"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/transcribe"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/voicecmd"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

const (
	// readHeaderTimeout bounds how long a client may take to send headers.
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout bounds the graceful shutdown triggered by Run.
	shutdownTimeout = 15 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// STT streams incremental transcripts.
	STT stt.Provider

	// BatchSTT transcribes whole recordings. Nil falls back to the gateway.
	BatchSTT stt.Transcriber

	// TTS speaks prompts. Nil means prompts are shown only.
	TTS tts.Provider

	// VAD filters background noise during silence detection.
	VAD vad.Engine
}

// App owns all subsystem lifetimes and serves interview rooms.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	gateway gateway.Gateway
	archive conversation.Archive
	metrics *observe.Metrics
	rooms   *RoomManager
	handler http.Handler
	server  *http.Server

	// Hot-reloadable state, swapped by Reload.
	defaults atomic.Pointer[config.InterviewConfig]
	commands atomic.Pointer[voicecmd.Matcher]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects an interview backend instead of creating an HTTP client
// from config.
func WithGateway(g gateway.Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithArchive injects a conversation archive instead of connecting to
// PostgreSQL.
func WithArchive(ar conversation.Archive) Option {
	return func(a *App) { a.archive = ar }
}

// WithMetrics injects the metric instruments instead of using the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Interview defaults and voice commands ─────────────────────────
	a.apply(cfg)

	// ── 4. Rooms and HTTP ────────────────────────────────────────────────
	a.rooms = NewRoomManager(cfg.Server.MaxInterviews)
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initGateway creates the HTTP backend client unless one was injected.
func (a *App) initGateway() error {
	if a.gateway != nil {
		return nil
	}
	gc := a.cfg.Gateway
	client, err := gateway.NewHTTPClient(gc.BaseURL,
		gateway.WithAPIKey(gc.APIKey),
		gateway.WithTimeout(gc.Timeout),
		gateway.WithBreaker(resilience.CircuitBreakerConfig{
			Name:         "gateway",
			MaxFailures:  gc.MaxFailures,
			ResetTimeout: gc.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		}),
	)
	if err != nil {
		return err
	}
	a.gateway = client
	return nil
}

// initArchive connects the PostgreSQL archive if configured and not injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		slog.Info("conversation archive disabled")
		return nil
	}

	store, err := postgres.NewArchive(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initHTTP builds the route table and the server.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle("GET /interview", room.NewHandler(room.Options{
		Gateway:        a.gateway,
		TTS:            a.providers.TTS,
		DefaultVoice:   a.defaultVoice(),
		NewAdapter:     a.newAdapter,
		Commands:       a.commands.Load,
		Archive:        a.archive,
		Metrics:        a.metrics,
		Defaults:       a.interviewDefaults,
		Registry:       a.rooms,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	}))
	mux.HandleFunc("GET /interviews", a.listInterviews)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers()...).Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// pinger is implemented by dependencies that can report their reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// checkers returns readiness checks for every dependency that supports one.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.gateway.(pinger); ok {
		cs = append(cs, health.Checker{Name: "gateway", Check: p.Ping})
	}
	if p, ok := a.archive.(pinger); ok {
		cs = append(cs, health.Checker{Name: "archive", Check: p.Ping})
	}
	cs = append(cs, health.Checker{Name: "capacity", Check: a.rooms.checkCapacity})
	return cs
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends every running interview, stops the HTTP server, and runs
// the closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "interviews", a.rooms.Count(), "closers", len(a.closers))

		// End interviews first so candidates get their report.
		if err := a.rooms.Shutdown(ctx); err != nil {
			slog.Warn("ending interviews failed", "err", err)
			shutdownErr = err
		}

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of cfg. New interviews use the
// new defaults; running interviews keep theirs.
func (a *App) Reload(cfg *config.Config) {
	a.apply(cfg)
	slog.Info("interview defaults reloaded",
		"silence_threshold_ms", cfg.Interview.SilenceThresholdMs,
		"voice_commands", cfg.VoiceCommands.On(),
	)
}

func (a *App) apply(cfg *config.Config) {
	iv := cfg.Interview
	a.defaults.Store(&iv)

	if !cfg.VoiceCommands.On() {
		a.commands.Store(nil)
		return
	}
	a.commands.Store(voicecmd.New(voicecmd.WithThreshold(cfg.VoiceCommands.Threshold)))
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Rooms returns the registry of running interviews.
func (a *App) Rooms() *RoomManager { return a.rooms }

// ─── Per-interview wiring ────────────────────────────────────────────────────

// interviewDefaults builds the configuration of a new interview from the
// current defaults.
func (a *App) interviewDefaults() turn.Config {
	iv := a.defaults.Load()
	cfg := turn.Config{
		Settings: turn.Settings{
			TTSEnabled:             iv.SpeakPrompts(),
			UseRemoteTranscription: iv.UseRemoteTranscription,
			SilenceThreshold:       time.Duration(iv.SilenceThresholdMs) * time.Millisecond,
			Muted:                  iv.Muted,
		},
		Voice: speech.Voice{ID: iv.Voice.ID, Name: iv.Voice.Name},
		Prosody: speech.Prosody{
			Rate:   iv.Voice.Rate,
			Pitch:  iv.Voice.Pitch,
			Volume: iv.Voice.Volume,
		},
		MaxStartFailures: iv.MaxStartFailures,
		AcquireTimeout:   iv.AcquireTimeout,
	}
	if a.providers.VAD != nil {
		cfg.SilenceOptions = append(cfg.SilenceOptions, silence.WithVAD(a.providers.VAD))
	}
	return cfg
}

// newAdapter picks the transcription strategy for one interview. Remote
// transcription, or the lack of a streaming recognizer, selects batch mode.
func (a *App) newAdapter(remote bool) transcribe.Adapter {
	iv := a.defaults.Load()
	opts := []transcribe.Option{transcribe.WithLanguage(iv.Language)}

	if remote || a.providers.STT == nil {
		tr := a.providers.BatchSTT
		if tr == nil {
			tr = gateway.Transcriber(a.gateway)
		}
		return transcribe.NewBatch(tr, opts...)
	}

	opts = append(opts, transcribe.WithRestart(session.RestartConfig{
		Name:        "stt",
		MaxRestarts: iv.RecognizerRestarts,
	}))
	return transcribe.NewIncremental(a.providers.STT, opts...)
}

// defaultVoice is the synthesizer voice used when the configured voice
// matches nothing the provider offers.
func (a *App) defaultVoice() tts.VoiceProfile {
	v := a.cfg.Interview.Voice
	return tts.VoiceProfile{ID: v.ID, Name: v.Name}
}

// listInterviews serves GET /interviews.
func (a *App) listInterviews(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.rooms.List()); err != nil {
		slog.Warn("encode interview list", "err", err)
	}
}
