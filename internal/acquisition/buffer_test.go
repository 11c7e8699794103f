package acquisition

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// 2 channels at 50 Hz gives 2 samples per packet.
var tinyGeometry = device.Geometry{Channels: 2, SampleRate: 50, PacketPeriod: 40 * time.Millisecond}

type scriptedSource struct {
	mu      sync.Mutex
	packets []*mat.Dense
	err     error
	started bool
	stopped int
	closed  int
}

func (s *scriptedSource) Name() string              { return "scripted" }
func (s *scriptedSource) Geometry() device.Geometry { return tinyGeometry }

func (s *scriptedSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *scriptedSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *scriptedSource) Next(ctx context.Context) (*mat.Dense, error) {
	s.mu.Lock()
	if len(s.packets) > 0 {
		p := s.packets[0]
		s.packets = s.packets[1:]
		s.mu.Unlock()
		return p, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func packet(base float64, trigger ...float64) *mat.Dense {
	if len(trigger) == 0 {
		trigger = []float64{0, 0}
	}
	return mat.NewDense(3, 2, []float64{
		base, base + 1,
		-base, -base - 1,
		trigger[0], trigger[1],
	})
}

func newBuffer(t *testing.T, src device.Source, maxSeconds int, trig Trigger) *Buffer {
	t.Helper()
	buf, err := New(Config{
		Path:       filepath.Join(t.TempDir(), "data.npy"),
		Geometry:   tinyGeometry,
		MaxSeconds: maxSeconds,
		Source:     src,
		Trigger:    trig,
		Logger:     testlog.Start(t),
	})
	require.NoError(t, err)
	return buf
}

func waitLen(t *testing.T, buf *Buffer, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return buf.Len() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestBufferCollectsAndStops(t *testing.T) {
	src := &scriptedSource{packets: []*mat.Dense{packet(1), packet(3), packet(5)}}
	buf := newBuffer(t, src, 10, Trigger{})
	require.Equal(t, StateFree, buf.State())
	require.Nil(t, buf.Snapshot())
	require.Nil(t, buf.Window(1))

	require.NoError(t, buf.Start(context.Background()))
	require.ErrorIs(t, buf.Start(context.Background()), ErrAlreadyCollecting)
	waitLen(t, buf, 6)

	require.NoError(t, buf.Stop())
	require.NoError(t, buf.Stop())
	require.Equal(t, StateStopped, buf.State())
	require.Equal(t, 1, src.stopped)

	require.ErrorIs(t, buf.Append(packet(7)), ErrNotCollecting)
	require.Equal(t, 6, buf.Len())

	snap := buf.Snapshot()
	r, c := snap.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 6, c)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, mat.Row(nil, 0, snap))

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())
	require.Equal(t, 1, src.closed)
}

func TestBufferWindow(t *testing.T) {
	src := &scriptedSource{packets: []*mat.Dense{packet(1), packet(3), packet(5)}}
	buf := newBuffer(t, src, 10, Trigger{})
	require.NoError(t, buf.Start(context.Background()))
	waitLen(t, buf, 6)
	defer buf.Close()

	// 0.08s at 50 Hz is 4 samples.
	w := buf.Window(0.08)
	_, c := w.Dims()
	require.Equal(t, 4, c)
	require.Equal(t, []float64{3, 4, 5, 6}, mat.Row(nil, 0, w))

	whole := buf.Window(60)
	_, c = whole.Dims()
	require.Equal(t, 6, c)

	// the window is a copy
	w.Set(0, 0, 99)
	require.Equal(t, 3.0, buf.Window(0.08).At(0, 0))
}

func TestBufferRejectsBeyondCapacity(t *testing.T) {
	buf := newBuffer(t, &scriptedSource{}, 1, Trigger{})
	require.Equal(t, 50, buf.Capacity())
	require.NoError(t, buf.Start(context.Background()))
	defer buf.Close()

	for i := 0; i < 25; i++ {
		require.NoError(t, buf.Append(packet(float64(i))))
	}
	require.Equal(t, 50, buf.Len())
	err := buf.Append(packet(100))
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, 50, buf.Len())
	require.Equal(t, StateCollecting, buf.State())
}

func TestBufferOverflowLogsError(t *testing.T) {
	var out bytes.Buffer
	buf, err := New(Config{
		Path:       filepath.Join(t.TempDir(), "data.npy"),
		Geometry:   tinyGeometry,
		MaxSeconds: 1,
		Source:     &scriptedSource{},
		Logger:     zerolog.New(zerolog.SyncWriter(&out)),
	})
	require.NoError(t, err)
	require.NoError(t, buf.Start(context.Background()))
	for i := 0; i < 25; i++ {
		require.NoError(t, buf.Append(packet(float64(i))))
	}
	require.ErrorIs(t, buf.Append(packet(100)), ErrCapacityExceeded)
	require.NoError(t, buf.Close())

	logged := out.String()
	require.Contains(t, logged, `"level":"error"`)
	require.Contains(t, logged, ErrCapacityExceeded.Error())
	require.Contains(t, logged, "acquisition buffer full, packet dropped")
}

func TestBufferRejectsWrongShape(t *testing.T) {
	buf := newBuffer(t, &scriptedSource{}, 1, Trigger{})
	require.NoError(t, buf.Start(context.Background()))
	defer buf.Close()
	err := buf.Append(mat.NewDense(2, 2, nil))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBufferTriggerCallback(t *testing.T) {
	type fired struct{ marker, length int }
	var mu sync.Mutex
	var got []fired
	trig := Trigger{
		Markers: []int{1, 2},
		Callback: func(marker, length int) {
			mu.Lock()
			got = append(got, fired{marker, length})
			mu.Unlock()
		},
	}
	src := &scriptedSource{packets: []*mat.Dense{
		packet(1, 1, 0),
		packet(2, 0, 3),
		packet(3, 0, 2),
	}}
	buf := newBuffer(t, src, 10, trig)
	require.NoError(t, buf.Start(context.Background()))
	waitLen(t, buf, 6)
	require.NoError(t, buf.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []fired{{1, 2}, {2, 6}}, got)
}

func TestBufferReaderErrorIsRecorded(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedSource{packets: []*mat.Dense{packet(1)}, err: boom}
	buf := newBuffer(t, src, 10, Trigger{})
	require.NoError(t, buf.Start(context.Background()))
	require.Eventually(t, func() bool { return buf.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, buf.Err(), boom)
	require.Equal(t, 2, buf.Len())
	require.NoError(t, buf.Close())
}

func TestBufferRestartClearsRecording(t *testing.T) {
	src := &scriptedSource{packets: []*mat.Dense{packet(1)}}
	buf := newBuffer(t, src, 10, Trigger{})
	require.NoError(t, buf.Start(context.Background()))
	waitLen(t, buf, 2)
	require.NoError(t, buf.Stop())

	require.NoError(t, buf.Start(context.Background()))
	require.Equal(t, 0, buf.Len())
	require.NoError(t, buf.Close())
}

func TestBufferStartWithoutSource(t *testing.T) {
	buf, err := New(Config{Geometry: tinyGeometry})
	require.NoError(t, err)
	require.ErrorIs(t, buf.Start(context.Background()), ErrNoSource)
}

func TestBufferWithSimulator(t *testing.T) {
	g := device.Geometry{Channels: 4, SampleRate: 250, PacketPeriod: 40 * time.Millisecond}
	sim, err := device.NewSimulator(device.SimulatorConfig{Geometry: g, Seconds: 1, Interval: time.Millisecond})
	require.NoError(t, err)
	buf, err := New(Config{Geometry: g, MaxSeconds: 1, Source: sim, Logger: testlog.Start(t)})
	require.NoError(t, err)

	require.NoError(t, buf.Start(context.Background()))
	require.Eventually(t, func() bool { return buf.Len() >= 250 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, buf.Close())
	require.Equal(t, 250, buf.Len())
	want := device.GenerateDataset(g, 1, device.DefaultTrialSeconds, device.DefaultSimulationLabels, device.DefaultSimulationSeed)
	require.True(t, mat.Equal(want, buf.Snapshot()))
}
