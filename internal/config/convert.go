package config

import (
	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/protocol/transport"
	"github.com/danmuck/neurobridge/internal/session"
	"github.com/rs/zerolog"
)

func (d DeviceConfig) Geometry() device.Geometry {
	return device.Geometry{
		Channels:     d.Channels,
		SampleRate:   d.SampleRate,
		PacketPeriod: d.PacketPeriod.Duration,
	}
}

// Source builds the options for opening the live device or its simulator.
func (d DeviceConfig) Source(logger zerolog.Logger) device.Config {
	trigger, _ := device.ParseTriggerMode(d.Trigger)
	return device.Config{
		Address:           d.Address,
		Geometry:          d.Geometry(),
		Simulation:        d.Simulation,
		SimulationSeconds: d.SimulationSeconds,
		Seed:              d.Seed,
		Trigger:           trigger,
		DialTimeout:       d.DialTimeout.Duration,
		ReadTimeout:       d.ReadTimeout.Duration,
		Logger:            logger,
	}
}

func (t TransportConfig) Transport() transport.Config {
	return transport.Config{
		ConnectTimeout:    t.ConnectTimeout.Duration,
		WriteTimeout:      t.WriteTimeout.Duration,
		HeartbeatInterval: t.HeartbeatInterval.Duration,
		ReadBufferSize:    t.ReadBufferSize,
		MaxMessageBytes:   t.MaxMessageBytes,
		Backoff: transport.BackoffConfig{
			InitialDelay: t.ReconnectDelay.Duration,
			Multiplier:   1.0,
			MaxDelay:     t.ReconnectDelay.Duration,
		},
	}.WithDefaults()
}

// Settings merges the session section with the device recording cap.
func (c Config) Settings() session.Settings {
	markers := make([]int, len(c.Session.TriggerMarkers))
	copy(markers, c.Session.TriggerMarkers)
	return session.Settings{
		ActiveInterval:   c.Session.ActiveInterval.Duration,
		WindowSeconds:    c.Session.WindowSeconds,
		MinWindowSeconds: c.Session.MinWindowSeconds,
		TriggerMarkers:   markers,
		BuildFolds:       c.Session.BuildFolds,
		MaxSeconds:       c.Device.MaxSeconds,
	}.WithDefaults()
}
