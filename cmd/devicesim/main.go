package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/logging"
	"github.com/danmuck/neurobridge/internal/observability"
)

// devicesim stands in for the amplifier on a bench without hardware.
func main() {
	listen := flag.String("listen", "127.0.0.1:4000", "address to accept device clients on")
	channels := flag.Int("channels", 64, "data channels per packet")
	rate := flag.Int("rate", 1000, "sample rate in Hz")
	period := flag.Duration("period", device.DefaultPacketPeriod, "packet period")
	seconds := flag.Int("seconds", 20, "length of the looped dataset in seconds")
	trial := flag.Float64("trial", 4, "seconds between trigger markers")
	labels := flag.Int("labels", 2, "number of distinct trigger labels")
	seed := flag.Int64("seed", 1, "dataset random seed")
	declared := flag.Uint("declared-body-size", 0, "override the body size written into DATA headers")
	flag.Parse()

	logger := observability.NewLogger("devicesim", os.Stderr, logging.ConfigureRuntime())
	geometry := device.Geometry{Channels: *channels, SampleRate: *rate, PacketPeriod: *period}
	if err := geometry.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emu := device.NewEmulator(device.EmulatorConfig{
		Simulator: device.SimulatorConfig{
			Geometry:     geometry,
			Seconds:      *seconds,
			TrialSeconds: *trial,
			Labels:       *labels,
			Seed:         *seed,
			Logger:       logger,
		},
		DeclaredBodySize: uint32(*declared),
		Logger:           logger,
	})
	logger.Info().
		Str("addr", ln.Addr().String()).
		Int("channels", geometry.Channels).
		Int("sample_rate", geometry.SampleRate).
		Int("bytes_per_packet", geometry.BytesPerPacket()).
		Dur("period", geometry.PacketPeriod).
		Msg("device emulator listening")
	if err := emu.Serve(ctx, ln); err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(1)
	}
}
