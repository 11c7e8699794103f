package decoder

import (
	"errors"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// CrossValidate splits the columns of data into k contiguous folds. For each
// fold a fresh decoder is fit on the other folds and asked to label the
// windowSamples-wide window ending at every marker in the held-out fold.
// The result is the fraction of correct labels, or 0 when no markers exist.
func CrossValidate(newDecoder Factory, data *mat.Dense, k, windowSamples int) (float64, error) {
	if data == nil {
		return 0, errors.New("decoder: no data to validate")
	}
	rows, cols := data.Dims()
	if k < 2 {
		k = 2
	}
	if k > cols {
		k = cols
	}
	if k < 2 {
		return 0, nil
	}
	if windowSamples <= 0 {
		windowSamples = 1
	}
	trigger := rows - 1

	total, correct := 0, 0
	foldSize := cols / k
	for fold := 0; fold < k; fold++ {
		lo := fold * foldSize
		hi := lo + foldSize
		if fold == k-1 {
			hi = cols
		}
		train := withoutColumns(data, lo, hi)
		dec := newDecoder()
		if err := dec.Fit(train); err != nil {
			return 0, err
		}
		for col := lo; col < hi; col++ {
			marker := data.At(trigger, col)
			if marker == 0 {
				continue
			}
			start := col + 1 - windowSamples
			if start < lo {
				start = lo
			}
			window := mat.DenseCopyOf(data.Slice(0, rows, start, col+1))
			label, err := dec.Predict(window)
			if err != nil {
				return 0, err
			}
			total++
			if label == strconv.Itoa(int(marker)) {
				correct++
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

func withoutColumns(data *mat.Dense, lo, hi int) *mat.Dense {
	rows, cols := data.Dims()
	keep := cols - (hi - lo)
	if keep <= 0 {
		return nil
	}
	out := make([]float64, 0, rows*keep)
	for r := 0; r < rows; r++ {
		row := data.RawRowView(r)
		out = append(out, row[:lo]...)
		out = append(out, row[hi:]...)
	}
	return mat.NewDense(rows, keep, out)
}
