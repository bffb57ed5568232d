// Package room binds one browser WebSocket connection to one interview.
//
// The browser sends JSON control frames (capture, mute, stop, answer,
// settings, end, playback_done) and binary microphone audio. The server
// sends the orchestrator's events as JSON frames and synthesized speech as
// binary PCM framed by speech_start and speech_end.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/turn"
)

const (
	defaultWriteTimeout = 5 * time.Second
	endTimeout          = 10 * time.Second
	readLimit           = 1 << 20
)

var errDisconnected = errors.New("room: client disconnected")

// Room is one live interview connection.
type Room struct {
	id          string
	interviewID string
	candidate   gateway.Candidate
	startedAt   time.Time

	conn         *websocket.Conn
	writeTimeout time.Duration
	speechRate   int

	orch    *turn.Orchestrator
	capture *captureSource
	sink    *speechSink

	pumped    chan struct{}
	startDone chan struct{}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// InterviewID returns the interview the room serves.
func (r *Room) InterviewID() string { return r.interviewID }

// Candidate returns who is being interviewed.
func (r *Room) Candidate() gateway.Candidate { return r.candidate }

// StartedAt returns when the connection was accepted.
func (r *Room) StartedAt() time.Time { return r.startedAt }

// State returns the orchestrator state.
func (r *Room) State() turn.State { return r.orch.State() }

// End ends the interview and waits for teardown.
func (r *Room) End(ctx context.Context) error { return r.orch.End(ctx) }

// Run serves the connection until the interview ended or the client went
// away. The interview is always ended before Run returns.
func (r *Room) Run(ctx context.Context) error {
	defer r.conn.CloseNow()
	r.conn.SetReadLimit(readLimit)

	hello := eventFrame{
		Type:        msgHello,
		RoomID:      r.id,
		InterviewID: r.interviewID,
		SampleRate:  r.speechRate,
		Channels:    1,
	}
	if err := r.writeJSON(ctx, hello); err != nil {
		_ = r.orch.End(context.WithoutCancel(ctx))
		return fmt.Errorf("room: hello: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.readLoop(gctx) })
	g.Go(func() error { return r.pumpEvents(gctx) })
	g.Go(func() error {
		defer close(r.startDone)
		if err := r.orch.Start(gctx); err != nil {
			slog.Warn("room: start interview", "room", r.id, "err", err)
			_ = r.writeJSON(gctx, eventFrame{
				Type:    string(turn.EventError),
				Message: "The interview could not be started.",
				Error:   err.Error(),
			})
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-r.orch.Done():
		case <-gctx.Done():
		}
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
		defer cancel()
		if err := r.orch.End(endCtx); err != nil {
			slog.Warn("room: end interview", "room", r.id, "err", err)
		}
		for _, ch := range []chan struct{}{r.startDone, r.pumped} {
			select {
			case <-ch:
			case <-endCtx.Done():
			}
		}
		r.conn.Close(websocket.StatusNormalClosure, "interview ended")
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errDisconnected) {
		status := websocket.CloseStatus(err)
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
			slog.Debug("room: connection closed", "room", r.id, "status", status, "err", err)
		}
		return nil
	}
	return err
}

func (r *Room) readLoop(ctx context.Context) error {
	for {
		typ, data, err := r.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", errDisconnected, err)
		}
		if typ == websocket.MessageBinary {
			if err := r.capture.feed(data); err != nil {
				slog.Debug("room: capture frame", "room", r.id, "err", err)
			}
			continue
		}

		var f controlFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("room: malformed control frame", "room", r.id, "err", err)
			continue
		}
		r.handleControl(ctx, f)
	}
}

func (r *Room) handleControl(ctx context.Context, f controlFrame) {
	switch f.Type {
	case msgCapture:
		r.capture.grant(f)
	case msgMute:
		if f.Muted != nil {
			r.orch.Mute(*f.Muted)
		}
	case msgStop:
		r.orch.StopListening()
	case msgAnswer:
		if err := r.orch.SubmitText(f.Text); err != nil {
			_ = r.writeJSON(ctx, eventFrame{
				Type:        string(turn.EventError),
				Message:     "The answer could not be accepted.",
				Error:       err.Error(),
				Recoverable: true,
			})
		}
	case msgSettings:
		if f.Settings != nil {
			r.orch.UpdateSettings(f.Settings.update())
		}
	case msgEnd:
		if err := r.orch.End(ctx); err != nil {
			slog.Warn("room: end requested by client", "room", r.id, "err", err)
		}
	case msgPlaybackDone:
		r.sink.ack(f.Seq)
	default:
		slog.Debug("room: unknown control frame", "room", r.id, "type", f.Type)
	}
}

// pumpEvents forwards orchestrator events until the event channel closes.
func (r *Room) pumpEvents(ctx context.Context) error {
	defer close(r.pumped)
	for ev := range r.orch.Events() {
		if err := r.writeJSON(ctx, frameFor(ev)); err != nil {
			slog.Debug("room: send event", "room", r.id, "kind", ev.Kind, "err", err)
		}
	}
	return nil
}

func (r *Room) writeJSON(ctx context.Context, f eventFrame) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, r.conn, f)
}

func (r *Room) write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return r.conn.Write(ctx, typ, p)
}
