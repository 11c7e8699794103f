package decoder

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/mat"
)

const (
	MajorityName = "majority"
	// DefaultLabel is predicted when training data carries no markers.
	DefaultLabel = "1"
)

// Majority predicts the most frequent trigger marker seen during Fit.
type Majority struct {
	mu     sync.RWMutex
	label  string
	counts map[int]int
	fitted bool
}

type majorityModel struct {
	Kind   string      `json:"kind"`
	Label  string      `json:"label"`
	Counts map[int]int `json:"counts,omitempty"`
}

func NewMajority() *Majority {
	return &Majority{}
}

// Fit counts the non-zero markers on the trigger row. Ties go to the lowest
// marker. A nil or marker-free recording fits to DefaultLabel.
func (m *Majority) Fit(data *mat.Dense) error {
	counts := make(map[int]int)
	if data != nil {
		rows, _ := data.Dims()
		for _, v := range data.RawRowView(rows - 1) {
			if v != 0 {
				counts[int(v)]++
			}
		}
	}
	label := DefaultLabel
	best, bestCount := 0, 0
	for marker, n := range counts {
		if n > bestCount || (n == bestCount && marker < best) {
			best, bestCount = marker, n
		}
	}
	if bestCount > 0 {
		label = strconv.Itoa(best)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.label = label
	m.counts = counts
	m.fitted = true
	return nil
}

func (m *Majority) Predict(*mat.Dense) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.fitted {
		return "", ErrNotFitted
	}
	return m.label, nil
}

func (m *Majority) Save(path string) error {
	m.mu.RLock()
	if !m.fitted {
		m.mu.RUnlock()
		return ErrNotFitted
	}
	raw, err := json.MarshalIndent(majorityModel{Kind: MajorityName, Label: m.label, Counts: m.counts}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("decoder: save %s: %w", path, err)
	}
	return nil
}

func (m *Majority) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("decoder: load %s: %w", path, err)
	}
	var model majorityModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return fmt.Errorf("decoder: parse %s: %w", path, err)
	}
	if model.Kind != MajorityName || model.Label == "" {
		return fmt.Errorf("decoder: %s is not a %s model", path, MajorityName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.label = model.Label
	m.counts = model.Counts
	m.fitted = true
	return nil
}
