package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/neurobridge/internal/config"
)

type overlay struct {
	key   []string
	apply func(dst *config.Config, src config.Config)
}

// overlays lists every file key that may replace a default. Keys absent from
// the file leave the default untouched, including zero values.
var overlays = []overlay{
	{[]string{"server", "id"}, func(d *config.Config, s config.Config) { d.Server.ID = strings.TrimSpace(s.Server.ID) }},
	{[]string{"server", "mode"}, func(d *config.Config, s config.Config) { d.Server.Mode = strings.TrimSpace(s.Server.Mode) }},
	{[]string{"server", "listen_addr"}, func(d *config.Config, s config.Config) { d.Server.ListenAddr = strings.TrimSpace(s.Server.ListenAddr) }},
	{[]string{"server", "connect_addr"}, func(d *config.Config, s config.Config) {
		d.Server.ConnectAddr = strings.TrimSpace(s.Server.ConnectAddr)
	}},

	{[]string{"transport", "heartbeat_interval"}, func(d *config.Config, s config.Config) { d.Transport.HeartbeatInterval = s.Transport.HeartbeatInterval }},
	{[]string{"transport", "write_timeout"}, func(d *config.Config, s config.Config) { d.Transport.WriteTimeout = s.Transport.WriteTimeout }},
	{[]string{"transport", "connect_timeout"}, func(d *config.Config, s config.Config) { d.Transport.ConnectTimeout = s.Transport.ConnectTimeout }},
	{[]string{"transport", "reconnect_delay"}, func(d *config.Config, s config.Config) { d.Transport.ReconnectDelay = s.Transport.ReconnectDelay }},
	{[]string{"transport", "read_buffer_size"}, func(d *config.Config, s config.Config) { d.Transport.ReadBufferSize = s.Transport.ReadBufferSize }},
	{[]string{"transport", "max_message_bytes"}, func(d *config.Config, s config.Config) { d.Transport.MaxMessageBytes = s.Transport.MaxMessageBytes }},

	{[]string{"device", "address"}, func(d *config.Config, s config.Config) { d.Device.Address = strings.TrimSpace(s.Device.Address) }},
	{[]string{"device", "sample_rate"}, func(d *config.Config, s config.Config) { d.Device.SampleRate = s.Device.SampleRate }},
	{[]string{"device", "channels"}, func(d *config.Config, s config.Config) { d.Device.Channels = s.Device.Channels }},
	{[]string{"device", "packet_period"}, func(d *config.Config, s config.Config) { d.Device.PacketPeriod = s.Device.PacketPeriod }},
	{[]string{"device", "simulation"}, func(d *config.Config, s config.Config) { d.Device.Simulation = s.Device.Simulation }},
	{[]string{"device", "simulation_seconds"}, func(d *config.Config, s config.Config) { d.Device.SimulationSeconds = s.Device.SimulationSeconds }},
	{[]string{"device", "seed"}, func(d *config.Config, s config.Config) { d.Device.Seed = s.Device.Seed }},
	{[]string{"device", "trigger"}, func(d *config.Config, s config.Config) { d.Device.Trigger = strings.TrimSpace(s.Device.Trigger) }},
	{[]string{"device", "max_seconds"}, func(d *config.Config, s config.Config) { d.Device.MaxSeconds = s.Device.MaxSeconds }},
	{[]string{"device", "dial_timeout"}, func(d *config.Config, s config.Config) { d.Device.DialTimeout = s.Device.DialTimeout }},
	{[]string{"device", "read_timeout"}, func(d *config.Config, s config.Config) { d.Device.ReadTimeout = s.Device.ReadTimeout }},

	{[]string{"session", "decoder"}, func(d *config.Config, s config.Config) { d.Session.Decoder = strings.TrimSpace(s.Session.Decoder) }},
	{[]string{"session", "active_interval"}, func(d *config.Config, s config.Config) { d.Session.ActiveInterval = s.Session.ActiveInterval }},
	{[]string{"session", "window_seconds"}, func(d *config.Config, s config.Config) { d.Session.WindowSeconds = s.Session.WindowSeconds }},
	{[]string{"session", "min_window_seconds"}, func(d *config.Config, s config.Config) { d.Session.MinWindowSeconds = s.Session.MinWindowSeconds }},
	{[]string{"session", "trigger_markers"}, func(d *config.Config, s config.Config) { d.Session.TriggerMarkers = s.Session.TriggerMarkers }},
	{[]string{"session", "build_folds"}, func(d *config.Config, s config.Config) { d.Session.BuildFolds = s.Session.BuildFolds }},

	{[]string{"admin", "enabled"}, func(d *config.Config, s config.Config) { d.Admin.Enabled = s.Admin.Enabled }},
	{[]string{"admin", "listen_addr"}, func(d *config.Config, s config.Config) { d.Admin.ListenAddr = strings.TrimSpace(s.Admin.ListenAddr) }},
	{[]string{"admin", "cors_origins"}, func(d *config.Config, s config.Config) { d.Admin.CORSOrigins = normalizeOrigins(s.Admin.CORSOrigins) }},
}

// loadBridgeConfig returns the defaults when path is empty. YAML files go
// through config.Load; TOML files are overlaid key by key and unknown keys
// are rejected.
func loadBridgeConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.Load(path)
	}

	cfg := config.Default()
	var raw config.Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load bridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return config.Config{}, fmt.Errorf("load bridge config: unknown keys %s", strings.Join(keys, ", "))
	}
	for _, o := range overlays {
		if meta.IsDefined(o.key...) {
			o.apply(&cfg, raw)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("bridge config invalid: %w", err)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
