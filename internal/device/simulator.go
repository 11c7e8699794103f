package device

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultSimulationSeconds = 20
	DefaultTrialSeconds      = 4.0
	DefaultSimulationLabels  = 2
	DefaultSimulationSeed    = 1
)

type SimulatorConfig struct {
	Geometry     Geometry
	Seconds      int
	TrialSeconds float64
	Labels       int
	Seed         int64
	// Interval paces Next. Zero uses the packet period, negative disables pacing.
	Interval time.Duration
	Trigger  TriggerMode
	Logger   zerolog.Logger
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	c.Geometry = c.Geometry.WithDefaults()
	if c.Seconds <= 0 {
		c.Seconds = DefaultSimulationSeconds
	}
	if c.TrialSeconds <= 0 {
		c.TrialSeconds = DefaultTrialSeconds
	}
	if c.Labels <= 0 {
		c.Labels = DefaultSimulationLabels
	}
	if c.Seed == 0 {
		c.Seed = DefaultSimulationSeed
	}
	if c.Interval == 0 {
		c.Interval = c.Geometry.PacketPeriod
	}
	if c.Trigger == "" {
		c.Trigger = TriggerPreserve
	}
	return c
}

// Simulator replays a synthetic recording in packet-sized chunks, wrapping at the end.
type Simulator struct {
	cfg    SimulatorConfig
	logger zerolog.Logger
	data   *mat.Dense

	mu       sync.Mutex
	cursor   int
	ticker   *time.Ticker
	acquired bool
	closed   bool
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	data := GenerateDataset(cfg.Geometry, cfg.Seconds, cfg.TrialSeconds, cfg.Labels, cfg.Seed)
	_, n := data.Dims()
	cfg.Logger.Info().
		Int("channels", cfg.Geometry.Channels).
		Int("sample_rate", cfg.Geometry.SampleRate).
		Int("samples", n).
		Msg("simulated device ready")
	return &Simulator{cfg: cfg, logger: cfg.Logger, data: data}, nil
}

// GenerateDataset builds a deterministic (Channels+1, seconds*SampleRate)
// recording. Each trial starts with a trigger marker cycling 1..labels, and
// the data rows carry a per-label offset for the duration of the trial.
func GenerateDataset(g Geometry, seconds int, trialSeconds float64, labels int, seed int64) *mat.Dense {
	rows := g.Rows()
	cols := seconds * g.SampleRate
	if cols < g.SamplesPerPacket() {
		cols = g.SamplesPerPacket()
	}
	trial := g.Samples(trialSeconds)
	if trial <= 0 {
		trial = cols
	}
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	trigger := g.TriggerRow()
	rate := float64(g.SampleRate)
	for t := 0; t < cols; t++ {
		k := t / trial
		label := k%labels + 1
		if t%trial == 0 {
			data[trigger*cols+t] = float64(label)
		}
		for c := 0; c < g.Channels; c++ {
			freq := 8 + float64(c%5)
			sign := 1.0
			if c%2 == 1 {
				sign = -1
			}
			v := 10*math.Sin(2*math.Pi*freq*float64(t)/rate+float64(c)) +
				sign*5*float64(label) +
				rng.NormFloat64()
			data[c*cols+t] = v
		}
	}
	return mat.NewDense(rows, cols, data)
}

func (s *Simulator) Name() string { return "simulation" }

func (s *Simulator) Geometry() Geometry { return s.cfg.Geometry }

func (s *Simulator) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.acquired {
		return nil
	}
	if s.cfg.Interval > 0 {
		s.ticker = time.NewTicker(s.cfg.Interval)
	}
	s.acquired = true
	s.logger.Debug().Msg("simulated acquisition started")
	return nil
}

func (s *Simulator) Next(ctx context.Context) (*mat.Dense, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.acquired {
		s.mu.Unlock()
		return nil, ErrNotAcquiring
	}
	ticker := s.ticker
	s.mu.Unlock()

	if ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	packet := s.Pop(s.cfg.Geometry.SamplesPerPacket())
	observability.RecordDevicePacket(s.Name())
	return packet, nil
}

// Pop removes n columns from the replay cursor, wrapping to the start when
// the recording runs out.
func (s *Simulator) Pop(n int) *mat.Dense {
	rows, total := s.data.Dims()
	out := make([]float64, rows*n)

	s.mu.Lock()
	start := s.cursor
	s.cursor = (s.cursor + n) % total
	s.mu.Unlock()

	trigger := rows - 1
	for j := 0; j < n; j++ {
		col := (start + j) % total
		for r := 0; r < rows; r++ {
			v := s.data.At(r, col)
			if r == trigger && s.cfg.Trigger == TriggerZero {
				v = 0
			}
			out[r*n+j] = v
		}
	}
	return mat.NewDense(rows, n, out)
}

// Reset rewinds the replay cursor.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.acquired {
		s.logger.Debug().Msg("simulated acquisition stopped")
	}
	s.acquired = false
	return nil
}

func (s *Simulator) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
