package decoder

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotFitted      = errors.New("decoder: not fitted")
	ErrUnknownDecoder = errors.New("decoder: unknown decoder")
)

// Decoder maps a window of samples to a class label. Data matrices are
// (Channels+1, N) with the trigger row last.
type Decoder interface {
	Fit(data *mat.Dense) error
	Predict(window *mat.Dense) (string, error)
	Save(path string) error
	Load(path string) error
}

type Factory func() Decoder

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		MajorityName: func() Decoder { return NewMajority() },
	}
)

// Register adds or replaces a named factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecoder, name)
	}
	return f, nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
