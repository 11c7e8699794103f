package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const DefaultMaxSeconds = 3600

var (
	ErrCapacityExceeded  = errors.New("acquisition: buffer capacity exceeded")
	ErrNotCollecting     = errors.New("acquisition: buffer is not collecting")
	ErrAlreadyCollecting = errors.New("acquisition: buffer is already collecting")
	ErrShapeMismatch     = errors.New("acquisition: packet shape does not match geometry")
	ErrNoSource          = errors.New("acquisition: no device source")
)

type State int

const (
	StateFree State = iota
	StateCollecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateCollecting:
		return "collecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger fires Callback for every appended trigger-row value found in Markers.
// The callback runs on the reader goroutine, outside the buffer lock.
type Trigger struct {
	Markers  []int
	Callback func(marker int, length int)
}

type Config struct {
	Path       string
	Geometry   device.Geometry
	MaxSeconds int
	Source     device.Source
	Trigger    Trigger
	Logger     zerolog.Logger
}

// Buffer accumulates packets from a device source into a bounded
// (Channels+1, N) recording.
type Buffer struct {
	cfg      Config
	logger   zerolog.Logger
	capacity int
	markers  map[int]struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error

	mu    sync.RWMutex
	state State
	rows  [][]float64
	n     int
	err   error
}

func New(cfg Config) (*Buffer, error) {
	cfg.Geometry = cfg.Geometry.WithDefaults()
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = DefaultMaxSeconds
	}
	markers := make(map[int]struct{}, len(cfg.Trigger.Markers))
	for _, m := range cfg.Trigger.Markers {
		markers[m] = struct{}{}
	}
	b := &Buffer{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("path", cfg.Path).Logger(),
		capacity: cfg.MaxSeconds * cfg.Geometry.SampleRate,
		markers:  markers,
	}
	b.reset()
	return b, nil
}

func (b *Buffer) reset() {
	rows := make([][]float64, b.cfg.Geometry.Rows())
	for i := range rows {
		rows[i] = make([]float64, 0, b.cfg.Geometry.SampleRate)
	}
	b.rows = rows
	b.n = 0
	b.err = nil
}

func (b *Buffer) Path() string { return b.cfg.Path }

func (b *Buffer) Geometry() device.Geometry { return b.cfg.Geometry }

func (b *Buffer) Capacity() int { return b.capacity }

func (b *Buffer) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Err reports the error that ended the reader, if any.
func (b *Buffer) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

// Start clears the recording, starts device acquisition and launches the
// reader goroutine. The reader lives until Stop or until ctx is done.
func (b *Buffer) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	if b.cfg.Source == nil {
		return ErrNoSource
	}

	b.mu.Lock()
	if b.state == StateCollecting {
		b.mu.Unlock()
		return ErrAlreadyCollecting
	}
	b.reset()
	b.mu.Unlock()

	if err := b.cfg.Source.Start(ctx); err != nil {
		return fmt.Errorf("acquisition: start source: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	b.mu.Lock()
	b.state = StateCollecting
	b.mu.Unlock()

	b.logger.Info().
		Str("source", b.cfg.Source.Name()).
		Int("capacity", b.capacity).
		Msg("acquisition started")
	go b.read(readCtx, b.done)
	return nil
}

func (b *Buffer) read(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		packet, err := b.cfg.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			b.logger.Error().Err(err).Msg("acquisition reader stopped")
			return
		}
		switch err := b.Append(packet); {
		case err == nil, errors.Is(err, ErrCapacityExceeded):
		case errors.Is(err, ErrNotCollecting):
			return
		default:
			b.logger.Warn().Err(err).Msg("acquisition packet rejected")
		}
	}
}

// Append adds a packet's columns to the recording. A packet that would grow
// the recording past capacity is rejected whole.
func (b *Buffer) Append(packet *mat.Dense) error {
	rows, cols := packet.Dims()
	if rows != b.cfg.Geometry.Rows() {
		return fmt.Errorf("%w: got %d rows want %d", ErrShapeMismatch, rows, b.cfg.Geometry.Rows())
	}

	b.mu.Lock()
	if b.state != StateCollecting {
		b.mu.Unlock()
		return ErrNotCollecting
	}
	if b.n+cols > b.capacity {
		n := b.n
		b.mu.Unlock()
		observability.RecordBufferDrop()
		b.logger.Error().
			Err(ErrCapacityExceeded).
			Int("samples", n).
			Int("capacity", b.capacity).
			Msg("acquisition buffer full, packet dropped")
		return ErrCapacityExceeded
	}
	for r := 0; r < rows; r++ {
		b.rows[r] = append(b.rows[r], packet.RawRowView(r)...)
	}
	b.n += cols
	length := b.n
	b.mu.Unlock()

	if b.cfg.Trigger.Callback == nil || len(b.markers) == 0 {
		return nil
	}
	trigger := packet.RawRowView(b.cfg.Geometry.TriggerRow())
	for _, v := range trigger {
		marker := int(v)
		if marker == 0 || float64(marker) != v {
			continue
		}
		if _, ok := b.markers[marker]; ok {
			b.cfg.Trigger.Callback(marker, length)
		}
	}
	return nil
}

// Window copies the trailing seconds of the recording. When fewer samples
// exist the whole recording is returned. Nil means nothing was recorded.
func (b *Buffer) Window(seconds float64) *mat.Dense {
	want := b.cfg.Geometry.Samples(seconds)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.n == 0 || want <= 0 {
		return nil
	}
	if want > b.n {
		b.logger.Warn().
			Int("requested", want).
			Int("samples", b.n).
			Msg("acquisition window larger than recording")
		want = b.n
	}
	return b.copyLocked(b.n-want, b.n)
}

// Snapshot copies the whole recording, or returns nil when it is empty.
func (b *Buffer) Snapshot() *mat.Dense {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.n == 0 {
		return nil
	}
	return b.copyLocked(0, b.n)
}

func (b *Buffer) copyLocked(from, to int) *mat.Dense {
	rows := len(b.rows)
	cols := to - from
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		data = append(data, b.rows[r][from:to]...)
	}
	return mat.NewDense(rows, cols, data)
}

// Stop cancels the reader, waits for it to finish its in-flight packet and
// stops device acquisition. The recorded length is frozen afterwards.
func (b *Buffer) Stop() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	if b.State() != StateCollecting {
		return nil
	}
	b.cancel()
	<-b.done

	b.mu.Lock()
	b.state = StateStopped
	n := b.n
	b.mu.Unlock()

	err := b.cfg.Source.Stop()
	b.logger.Info().Int("samples", n).Msg("acquisition stopped")
	if err != nil {
		return fmt.Errorf("acquisition: stop source: %w", err)
	}
	return nil
}

// Close stops acquisition and releases the device source.
func (b *Buffer) Close() error {
	stopErr := b.Stop()
	b.closeOnce.Do(func() {
		if b.cfg.Source != nil {
			b.closeErr = b.cfg.Source.Close()
		}
	})
	if stopErr != nil {
		return stopErr
	}
	return b.closeErr
}
