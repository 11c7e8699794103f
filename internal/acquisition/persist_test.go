package acquisition

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPersistAndLoad(t *testing.T) {
	src := &scriptedSource{packets: []*mat.Dense{packet(1, 1, 0), packet(3)}}
	buf := newBuffer(t, src, 10, Trigger{})
	require.NoError(t, buf.Start(context.Background()))
	waitLen(t, buf, 4)
	require.NoError(t, buf.Close())

	require.NoError(t, buf.Persist())
	loaded, err := Load(buf.Path())
	require.NoError(t, err)
	require.True(t, mat.Equal(buf.Snapshot(), loaded))

	// persisting again overwrites
	require.NoError(t, buf.Persist())
}

func TestPersistEmptyRecording(t *testing.T) {
	buf := newBuffer(t, &scriptedSource{}, 10, Trigger{})
	require.NoError(t, buf.Persist())
	info, err := os.Stat(buf.Path())
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	_, err = Load(buf.Path())
	require.ErrorIs(t, err, ErrEmptyRecording)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.npy"))
	require.Error(t, err)
}
