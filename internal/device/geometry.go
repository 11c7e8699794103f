package device

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Gain converts raw device counts to microvolts on the data rows.
const Gain = 0.0298

// DefaultPacketPeriod is the device's fixed packet cadence.
const DefaultPacketPeriod = 40 * time.Millisecond

var ErrInvalidGeometry = errors.New("device: invalid geometry")

// Geometry describes the shape of every data packet: Channels data rows plus
// one trigger row, SamplesPerPacket columns.
type Geometry struct {
	Channels     int
	SampleRate   int
	PacketPeriod time.Duration
}

func (g Geometry) WithDefaults() Geometry {
	if g.PacketPeriod <= 0 {
		g.PacketPeriod = DefaultPacketPeriod
	}
	return g
}

func (g Geometry) Validate() error {
	if g.Channels <= 0 {
		return fmt.Errorf("%w: channels must be > 0", ErrInvalidGeometry)
	}
	if g.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be > 0", ErrInvalidGeometry)
	}
	if g.SamplesPerPacket() <= 0 {
		return fmt.Errorf("%w: packet period %s yields no samples at %d Hz", ErrInvalidGeometry, g.PacketPeriod, g.SampleRate)
	}
	return nil
}

// Rows is the channel count plus the trigger row.
func (g Geometry) Rows() int {
	return g.Channels + 1
}

// TriggerRow is the index of the trigger row in every packet matrix.
func (g Geometry) TriggerRow() int {
	return g.Channels
}

func (g Geometry) SamplesPerPacket() int {
	return int(math.Round(float64(g.SampleRate) * g.WithDefaults().PacketPeriod.Seconds()))
}

func (g Geometry) BytesPerPacket() int {
	return g.Rows() * g.SamplesPerPacket() * 4
}

// Samples converts a duration in seconds to a column count at the sample rate.
func (g Geometry) Samples(seconds float64) int {
	return int(math.Round(seconds * float64(g.SampleRate)))
}
