package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/device"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	ModeServer = "server"
	ModeClient = "client"
)

// Config is the root bridge configuration. It is built once at startup and
// handed down; nothing reads it from package state.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Transport TransportConfig `toml:"transport" yaml:"transport"`
	Device    DeviceConfig    `toml:"device" yaml:"device"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Admin     AdminConfig     `toml:"admin" yaml:"admin"`
}

type ServerConfig struct {
	ID          string `toml:"id" yaml:"id"`
	Mode        string `toml:"mode" yaml:"mode"`
	ListenAddr  string `toml:"listen_addr" yaml:"listen_addr"`
	ConnectAddr string `toml:"connect_addr" yaml:"connect_addr"`
}

type TransportConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	WriteTimeout      Duration `toml:"write_timeout" yaml:"write_timeout"`
	ConnectTimeout    Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	ReconnectDelay    Duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	ReadBufferSize    int      `toml:"read_buffer_size" yaml:"read_buffer_size"`
	MaxMessageBytes   int      `toml:"max_message_bytes" yaml:"max_message_bytes"`
}

type DeviceConfig struct {
	Address           string   `toml:"address" yaml:"address"`
	SampleRate        int      `toml:"sample_rate" yaml:"sample_rate"`
	Channels          int      `toml:"channels" yaml:"channels"`
	PacketPeriod      Duration `toml:"packet_period" yaml:"packet_period"`
	Simulation        bool     `toml:"simulation" yaml:"simulation"`
	SimulationSeconds int      `toml:"simulation_seconds" yaml:"simulation_seconds"`
	Seed              int64    `toml:"seed" yaml:"seed"`
	Trigger           string   `toml:"trigger" yaml:"trigger"`
	MaxSeconds        int      `toml:"max_seconds" yaml:"max_seconds"`
	DialTimeout       Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout       Duration `toml:"read_timeout" yaml:"read_timeout"`
}

type SessionConfig struct {
	Decoder          string   `toml:"decoder" yaml:"decoder"`
	ActiveInterval   Duration `toml:"active_interval" yaml:"active_interval"`
	WindowSeconds    float64  `toml:"window_seconds" yaml:"window_seconds"`
	MinWindowSeconds float64  `toml:"min_window_seconds" yaml:"min_window_seconds"`
	TriggerMarkers   []int    `toml:"trigger_markers" yaml:"trigger_markers"`
	BuildFolds       int      `toml:"build_folds" yaml:"build_folds"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	ListenAddr  string   `toml:"listen_addr" yaml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

// Duration reads and writes Go duration strings such as "5s" or "40ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ID:          "neurobridge",
			Mode:        ModeServer,
			ListenAddr:  ":63365",
			ConnectAddr: "127.0.0.1:63365",
		},
		Transport: TransportConfig{
			HeartbeatInterval: Duration{5 * time.Second},
			WriteTimeout:      Duration{5 * time.Second},
			ConnectTimeout:    Duration{5 * time.Second},
			ReconnectDelay:    Duration{5 * time.Second},
			ReadBufferSize:    4096,
			MaxMessageBytes:   128 * 1024,
		},
		Device: DeviceConfig{
			Address:           device.DefaultDeviceAddress,
			SampleRate:        1000,
			Channels:          64,
			PacketPeriod:      Duration{device.DefaultPacketPeriod},
			Simulation:        true,
			SimulationSeconds: 20,
			Seed:              1,
			Trigger:           string(device.TriggerPreserve),
			MaxSeconds:        3600,
			DialTimeout:       Duration{5 * time.Second},
			ReadTimeout:       Duration{5 * time.Second},
		},
		Session: SessionConfig{
			Decoder:          decoder.MajorityName,
			ActiveInterval:   Duration{2 * time.Second},
			WindowSeconds:    4,
			MinWindowSeconds: 1,
			TriggerMarkers:   []int{1, 2},
			BuildFolds:       5,
		},
		Admin: AdminConfig{
			Enabled:     true,
			ListenAddr:  "127.0.0.1:9465",
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads path over the defaults. Files ending in .yaml or .yml are YAML,
// everything else is TOML.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	switch cfg.Server.Mode {
	case ModeServer:
		if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
			return fmt.Errorf("server.listen_addr is required in %s mode", ModeServer)
		}
	case ModeClient:
		if strings.TrimSpace(cfg.Server.ConnectAddr) == "" {
			return fmt.Errorf("server.connect_addr is required in %s mode", ModeClient)
		}
	default:
		return fmt.Errorf("server.mode must be %s or %s, got %q", ModeServer, ModeClient, cfg.Server.Mode)
	}
	if cfg.Transport.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("transport.heartbeat_interval must be positive")
	}
	if cfg.Transport.ReconnectDelay.Duration < 0 {
		return fmt.Errorf("transport.reconnect_delay must not be negative")
	}

	if err := cfg.Device.Geometry().Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if cfg.Device.MaxSeconds <= 0 {
		return fmt.Errorf("device.max_seconds must be positive")
	}
	if _, err := device.ParseTriggerMode(cfg.Device.Trigger); err != nil {
		return fmt.Errorf("device.trigger: %w", err)
	}
	if !cfg.Device.Simulation && strings.TrimSpace(cfg.Device.Address) == "" {
		return fmt.Errorf("device.address is required when simulation is off")
	}

	if _, err := decoder.Lookup(cfg.Session.Decoder); err != nil {
		return fmt.Errorf("session.decoder: %w (available: %s)", err, strings.Join(decoder.Names(), ", "))
	}
	if cfg.Session.WindowSeconds <= 0 || cfg.Session.MinWindowSeconds <= 0 {
		return fmt.Errorf("session window sizes must be positive")
	}
	if cfg.Session.WindowSeconds < cfg.Session.MinWindowSeconds {
		return fmt.Errorf("session.window_seconds (%g) is below min_window_seconds (%g)",
			cfg.Session.WindowSeconds, cfg.Session.MinWindowSeconds)
	}
	if cfg.Session.BuildFolds < 2 {
		return fmt.Errorf("session.build_folds must be at least 2")
	}

	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.ListenAddr) == "" {
		return fmt.Errorf("admin.listen_addr is required when admin is enabled")
	}
	return nil
}
