package session

import (
	"context"

	"github.com/danmuck/neurobridge/internal/acquisition"
	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/control"
)

// Build validates a stored model against a stored recording with k-fold
// cross-validation. It holds no state beyond the call.
func Build(_ context.Context, deps Deps, req BuildRequest) (control.Message, error) {
	deps.Settings = deps.Settings.WithDefaults()
	if deps.NewDecoder == nil {
		return control.Message{}, operationFailed("decoder not configured")
	}
	logger := deps.Logger.With().Str("session", req.SessionName).Logger()

	data, err := acquisition.Load(req.DataPath)
	if err != nil {
		return control.Message{}, operationFailed("load data: %v", err)
	}
	if err := deps.NewDecoder().Load(req.ModelPath); err != nil {
		return control.Message{}, operationFailed("load model: %v", err)
	}
	window := deps.Geometry.Samples(deps.Settings.WindowSeconds)
	acc, err := decoder.CrossValidate(deps.NewDecoder, data, deps.Settings.BuildFolds, window)
	if err != nil {
		return control.Message{}, operationFailed("validate: %v", err)
	}

	_, samples := data.Dims()
	logger.Info().
		Int("samples", samples).
		Int("folds", deps.Settings.BuildFolds).
		Float64("accuracy", acc).
		Msg("build finished")
	observability.RecordSession("build", "finished")
	reply := control.StopBuilding(req.SessionName, acc)
	deps.publish(observability.EventBuildFinished, Kind(req.SessionName), reply.Fields)
	return reply, nil
}
