package session

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/neurobridge/internal/acquisition"
	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/protocol/control"
)

// activeSession predicts on the trailing window at a fixed interval and
// pushes every label to the operator.
type activeSession struct {
	*base
	dec decoder.Decoder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *activeSession) startPredictor(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	interval := a.deps.Settings.ActiveInterval
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.tick()
			}
		}
	}()
}

func (a *activeSession) stopPredictor() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *activeSession) tick() {
	if a.buf.State() != acquisition.StateCollecting {
		return
	}
	if err := a.buf.Err(); err != nil {
		a.logger.Warn().Err(err).Msg("acquisition reader stopped, skipping tick")
		return
	}
	settings := a.deps.Settings
	minSamples := a.deps.Geometry.Samples(settings.MinWindowSeconds)
	if n := a.buf.Len(); n < minSamples {
		a.logger.Warn().
			Int("samples", n).
			Int("required", minSamples).
			Msg("not enough data for a prediction, skipping tick")
		return
	}
	label, err := a.dec.Predict(a.buf.Window(settings.WindowSeconds))
	if err != nil {
		a.logger.Warn().Err(err).Msg("prediction failed")
		return
	}
	a.logger.Debug().Str("label", label).Msg("label computed")
	a.sendLabel(control.LabelComputed(label))
}

func (a *activeSession) Receive(_ context.Context, msg control.Message) (control.Message, error) {
	if err := a.checkStop(msg); err != nil {
		return control.Message{}, err
	}
	a.stopPredictor()
	if err := a.finishRecording(); err != nil {
		return control.Message{}, err
	}
	reply := control.SessionStopped(string(a.kind)).
		With(control.FieldDataPath, a.req.DataPath)
	return a.markStopped(reply), nil
}

func (a *activeSession) Close() error {
	a.stopPredictor()
	return a.closeBuffer()
}
