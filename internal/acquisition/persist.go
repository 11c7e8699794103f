package acquisition

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

var ErrEmptyRecording = errors.New("acquisition: recording is empty")

// Persist writes the recording to the configured path as a float64 .npy
// array of shape (Channels+1, N). An existing file is overwritten.
func (b *Buffer) Persist() error {
	if b.cfg.Path == "" {
		return errors.New("acquisition: no data path configured")
	}
	if _, err := os.Stat(b.cfg.Path); err == nil {
		b.logger.Warn().Msg("acquisition data file exists, overwriting")
	}
	snapshot := b.Snapshot()
	if err := Save(b.cfg.Path, snapshot); err != nil {
		return err
	}
	n := 0
	if snapshot != nil {
		_, n = snapshot.Dims()
	}
	b.logger.Info().Int("samples", n).Msg("acquisition data persisted")
	return nil
}

// Save writes m as .npy. A nil matrix is written as an empty array.
func Save(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("acquisition: create %s: %w", path, err)
	}
	if m == nil {
		err = npyio.Write(f, []float64{})
	} else {
		err = npyio.Write(f, m)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("acquisition: write %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a recording written by Save.
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("acquisition: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("acquisition: read %s: %w", path, err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("%w: %s has shape %v", ErrEmptyRecording, path, shape)
	}
	var m mat.Dense
	if err := r.Read(&m); err != nil {
		return nil, fmt.Errorf("acquisition: decode %s: %w", path, err)
	}
	return &m, nil
}
