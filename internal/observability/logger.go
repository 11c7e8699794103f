package observability

import (
	"io"
	"os"
	"time"

	"github.com/danmuck/neurobridge/internal/logging"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger for app. A nil writer means stdout.
func NewLogger(app string, w io.Writer, cfg logging.Config) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	if !cfg.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(output).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Str("app", app).Logger()
}
