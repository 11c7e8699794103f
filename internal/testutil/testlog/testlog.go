package testlog

import (
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/neurobridge/internal/logging"
	"github.com/rs/zerolog"
)

// Start applies the test log profile and returns a logger that writes through
// t.Log. Lines emitted by goroutines that outlive the test are dropped.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	cfg := logging.ConfigureTests()
	w := &testWriter{t: t}
	t.Cleanup(w.finish)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}).
		Level(cfg.Level).
		With().
		Str("test", t.Name()).
		Logger()
	logger.Debug().Msg("test started")
	return logger
}

type testWriter struct {
	mu   sync.Mutex
	t    *testing.T
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func (w *testWriter) finish() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}
