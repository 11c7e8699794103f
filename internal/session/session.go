package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/neurobridge/internal/decoder"
	"github.com/danmuck/neurobridge/internal/device"
	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/protocol/control"
	"github.com/rs/zerolog"
)

// Kind is the wire sessionName of a session variant.
type Kind string

const (
	KindTraining Kind = "training"
	KindActive   Kind = "wubiaoqian"
	KindPassive  Kind = "youbiaoqian"
)

func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindTraining, KindActive, KindPassive:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("%w: unknown sessionName %q", control.ErrInvalidMessage, name)
	}
}

var ErrOperationFailed = errors.New("session: operation failed")

func operationFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOperationFailed, fmt.Sprintf(format, args...))
}

// Settings tune session behavior independently of the device.
type Settings struct {
	ActiveInterval   time.Duration
	WindowSeconds    float64
	MinWindowSeconds float64
	TriggerMarkers   []int
	BuildFolds       int
	MaxSeconds       int
}

func DefaultSettings() Settings {
	return Settings{
		ActiveInterval:   2 * time.Second,
		WindowSeconds:    4,
		MinWindowSeconds: 1,
		TriggerMarkers:   []int{1, 2},
		BuildFolds:       5,
		MaxSeconds:       3600,
	}
}

func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.ActiveInterval <= 0 {
		s.ActiveInterval = d.ActiveInterval
	}
	if s.WindowSeconds <= 0 {
		s.WindowSeconds = d.WindowSeconds
	}
	if s.MinWindowSeconds <= 0 {
		s.MinWindowSeconds = d.MinWindowSeconds
	}
	if s.TriggerMarkers == nil {
		s.TriggerMarkers = d.TriggerMarkers
	}
	if s.BuildFolds <= 1 {
		s.BuildFolds = d.BuildFolds
	}
	if s.MaxSeconds <= 0 {
		s.MaxSeconds = d.MaxSeconds
	}
	return s
}

// SourceFactory opens the device source a new session records from.
type SourceFactory func(ctx context.Context) (device.Source, error)

// Deps are the collaborators a session needs from its connection. Send is
// the only path back to the operator.
type Deps struct {
	ConnID     string
	Geometry   device.Geometry
	OpenSource SourceFactory
	NewDecoder decoder.Factory
	Send       func(control.Message) error
	Settings   Settings
	Logger     zerolog.Logger
	Events     *observability.Hub
}

// Session is one running variant owned by a connection.
type Session interface {
	Kind() Kind
	// Receive handles an in-session message. Errors wrapping
	// control.ErrInvalidMessage leave the session untouched.
	Receive(ctx context.Context, msg control.Message) (control.Message, error)
	Stopped() bool
	// Close releases the buffer and device without persisting.
	Close() error
}

func (d Deps) publish(kind string, session Kind, fields map[string]any) {
	d.Events.Publish(observability.Event{
		Kind:    kind,
		ConnID:  d.ConnID,
		Session: string(session),
		Fields:  fields,
	})
}
