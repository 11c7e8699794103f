package device

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/neurobridge/internal/protocol/frame"
	"github.com/danmuck/neurobridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func startEmulator(t *testing.T, cfg EmulatorConfig) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewEmulator(cfg).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func TestClientStreamsFromEmulator(t *testing.T) {
	logger := testlog.Start(t)
	addr := startEmulator(t, EmulatorConfig{
		Simulator: SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: 2 * time.Millisecond},
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, ClientConfig{Address: addr, Geometry: smallGeometry, Logger: logger})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Next(ctx)
	require.ErrorIs(t, err, ErrNotAcquiring)

	require.NoError(t, client.Start(ctx))
	want := GenerateDataset(smallGeometry, 1, DefaultTrialSeconds, DefaultSimulationLabels, DefaultSimulationSeed)
	for i := 0; i < 3; i++ {
		packet, err := client.Next(ctx)
		require.NoError(t, err)
		r, c := packet.Dims()
		require.Equal(t, smallGeometry.Rows(), r)
		require.Equal(t, smallGeometry.SamplesPerPacket(), c)
		col := i * c
		require.InDelta(t, want.At(0, col), packet.At(0, 0), Gain)
		require.Equal(t, want.At(4, col), packet.At(4, 0))
	}
	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop())
	require.Zero(t, client.Desyncs())
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}

func TestClientToleratesDeclaredSizeMismatch(t *testing.T) {
	logger := testlog.Start(t)
	g := Geometry{Channels: 12, SampleRate: 500, PacketPeriod: 40 * time.Millisecond}
	addr := startEmulator(t, EmulatorConfig{
		Simulator:        SimulatorConfig{Geometry: g, Seconds: 1, Interval: 2 * time.Millisecond},
		DeclaredBodySize: 1000,
		Logger:           logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, ClientConfig{Address: addr, Geometry: g, Logger: logger})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(ctx))

	for i := 0; i < 2; i++ {
		packet, err := client.Next(ctx)
		require.NoError(t, err)
		_, c := packet.Dims()
		require.Equal(t, 20, c)
	}
	require.GreaterOrEqual(t, client.Desyncs(), int64(2))
}

func TestParseScanReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, scanReply(smallGeometry), frame.DefaultLimits()))
	require.Equal(t, ScanReplyLen, buf.Len())

	info, err := parseScanReply(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, scanInfo{
		Channels:         smallGeometry.Channels,
		SampleRate:       smallGeometry.SampleRate,
		SamplesPerPacket: smallGeometry.SamplesPerPacket(),
	}, info)

	data := frame.Frame{Header: frame.Header{Tag: frame.TagData}, Body: make([]byte, ScanReplyLen-frame.HeaderLen)}
	buf.Reset()
	require.NoError(t, frame.WriteFrame(&buf, data, frame.DefaultLimits()))
	_, err = parseScanReply(buf.Bytes())
	require.Error(t, err)

	oversized := frame.EncodeHeader(frame.Header{Tag: frame.TagControl, BodySize: 64})
	_, err = parseScanReply(append(oversized, make([]byte, 12)...))
	require.ErrorIs(t, err, frame.ErrBodyTooLarge)
}

func TestEmulatorDropsCommandWithBody(t *testing.T) {
	addr := startEmulator(t, EmulatorConfig{
		Simulator: SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: time.Hour},
		Logger:    testlog.Start(t),
	})
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	bad := frame.Frame{Header: frame.Header{Tag: frame.TagControl, Code: 2, Request: 1}, Body: []byte{1, 2, 3, 4}}
	require.NoError(t, frame.WriteFrame(conn, bad, frame.DefaultLimits()))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = frame.ReadHeader(conn)
	require.ErrorIs(t, err, frame.ErrConnectionLost)
}

func TestClientNextCancelled(t *testing.T) {
	logger := testlog.Start(t)
	addr := startEmulator(t, EmulatorConfig{
		Simulator: SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: time.Hour},
		Logger:    logger,
	})

	client, err := Dial(context.Background(), ClientConfig{Address: addr, Geometry: smallGeometry, Logger: logger, ReadTimeout: time.Second})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = client.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenSelectsSimulation(t *testing.T) {
	src, err := Open(context.Background(), Config{Geometry: smallGeometry, Simulation: true, SimulationSeconds: 1})
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, "simulation", src.Name())
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), ClientConfig{Address: addr, Geometry: smallGeometry, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}
