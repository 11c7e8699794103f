package device

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/neurobridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var smallGeometry = Geometry{Channels: 4, SampleRate: 250, PacketPeriod: 40 * time.Millisecond}

func TestGenerateDatasetIsDeterministic(t *testing.T) {
	a := GenerateDataset(smallGeometry, 2, 1, 2, 7)
	b := GenerateDataset(smallGeometry, 2, 1, 2, 7)
	require.True(t, mat.Equal(a, b))

	r, c := a.Dims()
	require.Equal(t, 5, r)
	require.Equal(t, 500, c)
	require.Equal(t, 1.0, a.At(4, 0))
	require.Equal(t, 2.0, a.At(4, 250))
	require.Equal(t, 0.0, a.At(4, 1))
}

func TestSimulatorPopWrapsAround(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: -1, Logger: testlog.Start(t)})
	require.NoError(t, err)
	data := GenerateDataset(smallGeometry, 1, DefaultTrialSeconds, DefaultSimulationLabels, DefaultSimulationSeed)
	_, total := data.Dims()
	require.Equal(t, 250, total)

	first := sim.Pop(240)
	_, c := first.Dims()
	require.Equal(t, 240, c)

	wrapped := sim.Pop(20)
	for j := 0; j < 10; j++ {
		require.Equal(t, data.At(0, 240+j), wrapped.At(0, j))
	}
	for j := 10; j < 20; j++ {
		require.Equal(t, data.At(0, j-10), wrapped.At(0, j))
	}

	again := sim.Pop(1)
	require.Equal(t, data.At(0, 10), again.At(0, 0))
}

func TestSimulatorNextRequiresStart(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: -1})
	require.NoError(t, err)
	_, err = sim.Next(context.Background())
	require.ErrorIs(t, err, ErrNotAcquiring)

	require.NoError(t, sim.Start(context.Background()))
	packet, err := sim.Next(context.Background())
	require.NoError(t, err)
	r, c := packet.Dims()
	require.Equal(t, smallGeometry.Rows(), r)
	require.Equal(t, smallGeometry.SamplesPerPacket(), c)

	require.NoError(t, sim.Stop())
	require.NoError(t, sim.Close())
	require.NoError(t, sim.Close())
	_, err = sim.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestSimulatorNextHonoursContext(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, sim.Start(context.Background()))
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sim.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatorZeroTrigger(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Geometry: smallGeometry, Seconds: 1, Interval: -1, Trigger: TriggerZero})
	require.NoError(t, err)
	packet := sim.Pop(smallGeometry.SamplesPerPacket())
	data := GenerateDataset(smallGeometry, 1, DefaultTrialSeconds, DefaultSimulationLabels, DefaultSimulationSeed)
	require.Equal(t, 1.0, data.At(4, 0))
	require.Equal(t, 0.0, packet.At(4, 0))
}
