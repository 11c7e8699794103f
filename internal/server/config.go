package server

import (
	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/transport"
	"github.com/danmuck/neurobridge/internal/session"
	"github.com/rs/zerolog"
)

const (
	DefaultListenAddr  = ":63365"
	DefaultConnectAddr = "127.0.0.1:63365"
)

// Config wires a control endpoint to its device and decoder collaborators.
type Config struct {
	ListenAddr  string
	ConnectAddr string
	Transport   transport.Config
	Geometry    device.Geometry
	OpenSource  session.SourceFactory
	NewDecoder  decoder.Factory
	Settings    session.Settings
	Logger      zerolog.Logger
	Events      *observability.Hub
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		ConnectAddr: DefaultConnectAddr,
		Transport:   transport.DefaultConfig(),
		Geometry:    device.Geometry{Channels: 64, SampleRate: 1000, PacketPeriod: device.DefaultPacketPeriod},
		NewDecoder:  func() decoder.Decoder { return decoder.NewMajority() },
		Settings:    session.DefaultSettings(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.ConnectAddr == "" {
		c.ConnectAddr = d.ConnectAddr
	}
	if c.NewDecoder == nil {
		c.NewDecoder = d.NewDecoder
	}
	c.Transport = c.Transport.WithDefaults()
	c.Geometry = c.Geometry.WithDefaults()
	c.Settings = c.Settings.WithDefaults()
	return c
}
