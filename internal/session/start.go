package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/neurobridge/internal/acquisition"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/control"
	"github.com/rs/zerolog"
)

// Start builds and launches the session variant named by req. The ctx bounds
// the session's background work and should live as long as the connection.
func Start(ctx context.Context, deps Deps, req StartRequest) (Session, error) {
	deps.Settings = deps.Settings.WithDefaults()
	if deps.OpenSource == nil || deps.NewDecoder == nil || deps.Send == nil {
		return nil, operationFailed("session dependencies not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger.With().Str("session", string(req.Kind)).Logger()
	dec := deps.NewDecoder()
	if req.Kind != KindTraining {
		if err := dec.Load(req.ModelPath); err != nil {
			return nil, operationFailed("load model: %v", err)
		}
	}

	src, err := deps.OpenSource(ctx)
	if err != nil {
		return nil, operationFailed("open device: %v", err)
	}

	b := &base{
		kind:   req.Kind,
		req:    req,
		deps:   deps,
		logger: logger,
	}

	var s Session
	var trigger acquisition.Trigger
	switch req.Kind {
	case KindTraining:
		s = &trainingSession{base: b, dec: dec}
	case KindActive:
		s = &activeSession{base: b, dec: dec}
	case KindPassive:
		p := &passiveSession{base: b, dec: dec}
		trigger = acquisition.Trigger{Markers: deps.Settings.TriggerMarkers, Callback: p.onTrigger}
		s = p
	default:
		_ = src.Close()
		return nil, fmt.Errorf("%w: unknown session kind %q", control.ErrInvalidMessage, req.Kind)
	}

	buf, err := acquisition.New(acquisition.Config{
		Path:       req.DataPath,
		Geometry:   deps.Geometry,
		MaxSeconds: deps.Settings.MaxSeconds,
		Source:     src,
		Trigger:    trigger,
		Logger:     logger,
	})
	if err != nil {
		_ = src.Close()
		return nil, operationFailed("buffer: %v", err)
	}
	b.buf = buf
	if err := buf.Start(ctx); err != nil {
		_ = buf.Close()
		return nil, operationFailed("start acquisition: %v", err)
	}
	if a, ok := s.(*activeSession); ok {
		a.startPredictor(ctx)
	}

	observability.RecordSession(string(req.Kind), "started")
	deps.publish(observability.EventSessionStarted, req.Kind, map[string]any{
		"dataPath":  req.DataPath,
		"modelPath": req.ModelPath,
		"source":    src.Name(),
	})
	logger.Info().
		Str("path", req.DataPath).
		Str("model", req.ModelPath).
		Str("source", src.Name()).
		Msg("session started")
	return s, nil
}

// base carries what every streaming variant shares.
type base struct {
	kind   Kind
	req    StartRequest
	deps   Deps
	buf    *acquisition.Buffer
	logger zerolog.Logger

	stopped   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (b *base) Kind() Kind { return b.kind }

func (b *base) Stopped() bool { return b.stopped.Load() }

// Buffer exposes the session's recording for inspection.
func (b *base) Buffer() *acquisition.Buffer { return b.buf }

func (b *base) closeBuffer() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.buf.Close()
	})
	return b.closeErr
}

// checkStop rejects stopSession messages naming another variant.
func (b *base) checkStop(msg control.Message) error {
	if msg.Method != control.MethodStopSession {
		return fmt.Errorf("%w: %s not accepted by %s session", control.ErrInvalidMessage, msg.Method, b.kind)
	}
	if !msg.Has(control.FieldSessionName) {
		return nil
	}
	if name, _ := msg.String(control.FieldSessionName); name != "" && Kind(name) != b.kind {
		return fmt.Errorf("%w: stopSession for %q but %q is active", control.ErrInvalidMessage, name, b.kind)
	}
	return nil
}

// finishRecording stops acquisition and persists the recording.
func (b *base) finishRecording() error {
	if err := b.buf.Stop(); err != nil {
		b.logger.Warn().Err(err).Msg("acquisition stop reported an error")
	}
	if err := b.buf.Persist(); err != nil {
		return operationFailed("persist data: %v", err)
	}
	return nil
}

func (b *base) markStopped(reply control.Message) control.Message {
	if err := b.closeBuffer(); err != nil {
		b.logger.Warn().Err(err).Msg("device release reported an error")
	}
	b.stopped.Store(true)
	observability.RecordSession(string(b.kind), "stopped")
	b.deps.publish(observability.EventSessionStopped, b.kind, reply.Fields)
	b.logger.Info().Int("samples", b.buf.Len()).Msg("session stopped")
	return reply
}

func (b *base) sendLabel(msg control.Message) {
	observability.RecordLabel(string(b.kind))
	b.deps.publish(observability.EventLabelComputed, b.kind, msg.Fields)
	if err := b.deps.Send(msg); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Debug().Err(err).Msg("label send failed")
	}
}
