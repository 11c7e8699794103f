package session

import (
	"context"

	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/protocol/control"
)

// trainingSession records until stopped, then fits and saves a decoder.
type trainingSession struct {
	*base
	dec decoder.Decoder
}

func (t *trainingSession) Receive(_ context.Context, msg control.Message) (control.Message, error) {
	if err := t.checkStop(msg); err != nil {
		return control.Message{}, err
	}
	if err := t.finishRecording(); err != nil {
		return control.Message{}, err
	}
	if err := t.dec.Fit(t.buf.Snapshot()); err != nil {
		return control.Message{}, operationFailed("fit: %v", err)
	}
	if err := t.dec.Save(t.req.ModelPath); err != nil {
		return control.Message{}, operationFailed("save model: %v", err)
	}
	reply := control.SessionStopped(string(t.kind)).
		With(control.FieldDataPath, t.req.DataPath).
		With(control.FieldModelPath, t.req.ModelPath)
	return t.markStopped(reply), nil
}

func (t *trainingSession) Close() error {
	return t.closeBuffer()
}
