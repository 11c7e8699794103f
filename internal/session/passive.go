package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/protocol/control"
)

type labelPair struct {
	truth     string
	predicted string
}

// passiveSession predicts on trigger markers and on request, tracking
// accuracy against the markers and refitting every UpdateCount triggers.
type passiveSession struct {
	*base

	mu    sync.Mutex
	dec   decoder.Decoder
	pairs []labelPair
}

func (p *passiveSession) predictLocked() (string, error) {
	return p.dec.Predict(p.buf.Window(p.deps.Settings.WindowSeconds))
}

// onTrigger runs on the acquisition reader goroutine.
func (p *passiveSession) onTrigger(marker int, length int) {
	p.mu.Lock()
	label, err := p.predictLocked()
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn().Err(err).Int("marker", marker).Msg("triggered prediction failed")
		return
	}
	p.pairs = append(p.pairs, labelPair{truth: strconv.Itoa(marker), predicted: label})
	n := len(p.pairs)
	if every := p.req.UpdateCount; every > 0 && n%every == 0 {
		if err := p.dec.Fit(p.buf.Snapshot()); err != nil {
			p.logger.Warn().Err(err).Msg("decoder update failed")
		} else {
			p.logger.Info().Int("pairs", n).Msg("decoder updated")
		}
	}
	p.mu.Unlock()

	p.logger.Debug().
		Int("marker", marker).
		Int("samples", length).
		Str("label", label).
		Msg("triggered label computed")
	p.sendLabel(control.LabelComputedWithTruth(label, marker))
}

// Accuracy is matches over recorded pairs, 0 when there are none.
func (p *passiveSession) Accuracy() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pairs) == 0 {
		return 0
	}
	matches := 0
	for _, pair := range p.pairs {
		if pair.truth == pair.predicted {
			matches++
		}
	}
	return float64(matches) / float64(len(p.pairs))
}

func (p *passiveSession) Receive(_ context.Context, msg control.Message) (control.Message, error) {
	if msg.Method == control.MethodComputeLabel {
		p.mu.Lock()
		label, err := p.predictLocked()
		p.mu.Unlock()
		if err != nil {
			return control.Message{}, operationFailed("predict: %v", err)
		}
		return control.LabelComputed(label), nil
	}
	if err := p.checkStop(msg); err != nil {
		return control.Message{}, err
	}
	if err := p.finishRecording(); err != nil {
		return control.Message{}, err
	}
	p.mu.Lock()
	err := p.dec.Save(p.req.NewModelPath)
	p.mu.Unlock()
	if err != nil {
		return control.Message{}, operationFailed("save model: %v", err)
	}
	reply := control.SessionStopped(string(p.kind)).
		With(control.FieldDataPath, p.req.DataPath).
		With(control.FieldNewModelPath, p.req.NewModelPath).
		With(control.FieldAccuracy, p.Accuracy())
	return p.markStopped(reply), nil
}

func (p *passiveSession) Close() error {
	return p.closeBuffer()
}
