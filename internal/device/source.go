package device

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotAcquiring = errors.New("device: acquisition not started")
	ErrClosed       = errors.New("device: source closed")
)

// Source yields packets of shape (Channels+1, SamplesPerPacket).
type Source interface {
	Name() string
	Geometry() Geometry
	Start(ctx context.Context) error
	Next(ctx context.Context) (*mat.Dense, error)
	Stop() error
	Close() error
}

// Config selects and parameterizes a Source.
type Config struct {
	Address            string
	Geometry           Geometry
	Simulation         bool
	SimulationSeconds  int
	SimulationInterval time.Duration
	Seed               int64
	Trigger            TriggerMode
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	Logger             zerolog.Logger
}

// Open returns the simulator when Simulation is set, otherwise dials the device.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Simulation {
		return NewSimulator(SimulatorConfig{
			Geometry: cfg.Geometry,
			Seconds:  cfg.SimulationSeconds,
			Seed:     cfg.Seed,
			Interval: cfg.SimulationInterval,
			Trigger:  cfg.Trigger,
			Logger:   cfg.Logger,
		})
	}
	return Dial(ctx, ClientConfig{
		Address:     cfg.Address,
		Geometry:    cfg.Geometry,
		Trigger:     cfg.Trigger,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		Logger:      cfg.Logger,
	})
}
