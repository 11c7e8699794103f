package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/neurobridge/internal/admin"
	"github.com/danmuck/neurobridge/internal/config"
	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/logging"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "bridge config file (.toml, .yaml)")
	mode := flag.String("mode", "", "override server.mode: server|client")
	simulate := flag.Bool("simulate", false, "force the simulated device source")
	flag.Parse()

	if err := run(*configPath, *mode, *simulate); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode string, simulate bool) error {
	logCfg := logging.ConfigureRuntime()
	logger := observability.NewLogger("bridgectl", os.Stderr, logCfg)

	cfg, err := loadBridgeConfig(configPath)
	if err != nil {
		return err
	}
	if m := strings.TrimSpace(mode); m != "" {
		cfg.Server.Mode = m
	}
	if simulate {
		cfg.Device.Simulation = true
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	newDecoder, err := decoder.Lookup(cfg.Session.Decoder)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()
	events := observability.NewHub(256)
	deviceLogger := logger.With().Str("component", "device").Logger()

	srvCfg := server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		ConnectAddr: cfg.Server.ConnectAddr,
		Transport:   cfg.Transport.Transport(),
		Geometry:    cfg.Device.Geometry(),
		OpenSource: func(ctx context.Context) (device.Source, error) {
			return device.Open(ctx, cfg.Device.Source(deviceLogger))
		},
		NewDecoder: newDecoder,
		Settings:   cfg.Settings(),
		Logger:     logger.With().Str("component", "control").Logger(),
		Events:     events,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("id", cfg.Server.ID).
		Str("mode", cfg.Server.Mode).
		Bool("simulation", cfg.Device.Simulation).
		Int("channels", cfg.Device.Channels).
		Int("sample_rate", cfg.Device.SampleRate).
		Str("decoder", cfg.Session.Decoder).
		Msg("bridge starting")

	var (
		registry *server.Registry
		control  func(context.Context) error
	)
	switch cfg.Server.Mode {
	case config.ModeClient:
		client := server.NewClient(srvCfg)
		registry, control = client.Registry(), client.Run
	default:
		svc := server.NewService(srvCfg)
		registry, control = svc.Registry(), svc.ListenAndServe
	}

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- control(ctx) }()
	if cfg.Admin.Enabled {
		running++
		go func() { errCh <- runAdmin(ctx, cfg, registry, events, logger) }()
	}

	var firstErr error
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	logger.Info().Msg("bridge stopped")
	return firstErr
}

func runAdmin(ctx context.Context, cfg config.Config, registry *server.Registry, events *observability.Hub, logger zerolog.Logger) error {
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	api := admin.New(admin.Config{
		ID:          cfg.Server.ID,
		ListenAddr:  cfg.Admin.ListenAddr,
		CORSOrigins: cfg.Admin.CORSOrigins,
		Connections: registry,
		Events:      events,
		Logger:      logger.With().Str("component", "admin").Logger(),
	})
	return api.Run(ctx)
}
