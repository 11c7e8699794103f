package decoder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func recording(triggers ...float64) *mat.Dense {
	n := len(triggers)
	data := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		data[i] = float64(i)
	}
	copy(data[n:], triggers)
	return mat.NewDense(2, n, data)
}

func TestMajorityFitPicksMostFrequentMarker(t *testing.T) {
	m := NewMajority()
	_, err := m.Predict(nil)
	require.ErrorIs(t, err, ErrNotFitted)

	require.NoError(t, m.Fit(recording(2, 0, 1, 2, 0, 2, 1)))
	label, err := m.Predict(nil)
	require.NoError(t, err)
	require.Equal(t, "2", label)
}

func TestMajorityFitTiesAndEmpty(t *testing.T) {
	m := NewMajority()
	require.NoError(t, m.Fit(recording(2, 1, 2, 1)))
	label, _ := m.Predict(nil)
	require.Equal(t, "1", label)

	require.NoError(t, m.Fit(recording(0, 0, 0)))
	label, _ = m.Predict(nil)
	require.Equal(t, DefaultLabel, label)

	require.NoError(t, m.Fit(nil))
	label, _ = m.Predict(nil)
	require.Equal(t, DefaultLabel, label)
}

func TestMajoritySaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	m := NewMajority()
	require.ErrorIs(t, m.Save(path), ErrNotFitted)
	require.NoError(t, m.Fit(recording(0, 3, 3)))
	require.NoError(t, m.Save(path))

	loaded := NewMajority()
	require.NoError(t, loaded.Load(path))
	label, err := loaded.Predict(nil)
	require.NoError(t, err)
	require.Equal(t, "3", label)

	require.Error(t, loaded.Load(filepath.Join(t.TempDir(), "missing.json")))
}

func TestLookup(t *testing.T) {
	f, err := Lookup(MajorityName)
	require.NoError(t, err)
	require.IsType(t, &Majority{}, f())

	_, err = Lookup("svm")
	require.ErrorIs(t, err, ErrUnknownDecoder)
	require.Contains(t, Names(), MajorityName)
}

func TestCrossValidate(t *testing.T) {
	factory := func() Decoder { return NewMajority() }

	// every marker is 1, so the majority decoder is always right
	acc, err := CrossValidate(factory, recording(1, 0, 1, 0, 1, 0, 1, 0), 4, 2)
	require.NoError(t, err)
	require.Equal(t, 1.0, acc)

	// held-out fold 0 carries the only 2; training on the rest predicts 1
	acc, err = CrossValidate(factory, recording(2, 0, 1, 0, 1, 0, 1, 0), 4, 2)
	require.NoError(t, err)
	require.InDelta(t, 0.75, acc, 1e-9)

	acc, err = CrossValidate(factory, recording(0, 0, 0, 0), 2, 2)
	require.NoError(t, err)
	require.Equal(t, 0.0, acc)

	_, err = CrossValidate(factory, nil, 5, 2)
	require.Error(t, err)
}

// windowRecorder remembers every window it is asked to label.
type windowRecorder struct {
	*Majority
	windows []*mat.Dense
}

func (w *windowRecorder) Predict(window *mat.Dense) (string, error) {
	w.windows = append(w.windows, window)
	return w.Majority.Predict(window)
}

func TestCrossValidateWindowEndsAtMarker(t *testing.T) {
	var recorders []*windowRecorder
	factory := func() Decoder {
		r := &windowRecorder{Majority: NewMajority()}
		recorders = append(recorders, r)
		return r
	}

	// markers at columns 3 and 5; folds are [0,4) and [4,8)
	_, err := CrossValidate(factory, recording(0, 0, 0, 1, 0, 2, 0, 0), 2, 3)
	require.NoError(t, err)
	require.Len(t, recorders, 2)

	require.Len(t, recorders[0].windows, 1)
	w := recorders[0].windows[0]
	_, c := w.Dims()
	require.Equal(t, 3, c)
	require.Equal(t, []float64{1, 2, 3}, mat.Row(nil, 0, w))
	require.Equal(t, 1.0, w.At(1, c-1))

	// the window never reaches back into the training folds
	require.Len(t, recorders[1].windows, 1)
	w = recorders[1].windows[0]
	_, c = w.Dims()
	require.Equal(t, 2, c)
	require.Equal(t, []float64{4, 5}, mat.Row(nil, 0, w))
	require.Equal(t, 2.0, w.At(1, c-1))
}
