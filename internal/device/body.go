package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/neurobridge/internal/protocol/frame"
	"gonum.org/v1/gonum/mat"
)

// TriggerMode selects what happens to the trigger row on decode.
type TriggerMode string

const (
	TriggerPreserve TriggerMode = "preserve"
	TriggerZero     TriggerMode = "zero"
)

func ParseTriggerMode(raw string) (TriggerMode, error) {
	switch TriggerMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TriggerPreserve:
		return TriggerPreserve, nil
	case TriggerZero:
		return TriggerZero, nil
	default:
		return "", fmt.Errorf("device: unknown trigger mode %q", raw)
	}
}

// DecodeBody turns a little-endian int32 body, interleaved per sample, into a
// (Channels+1, SamplesPerPacket) matrix. Data rows are scaled by Gain.
func DecodeBody(body []byte, g Geometry, mode TriggerMode) (*mat.Dense, error) {
	rows, cols := g.Rows(), g.SamplesPerPacket()
	want := g.BytesPerPacket()
	if len(body) < want {
		return nil, fmt.Errorf("%w: body has %d of %d bytes", frame.ErrConnectionLost, len(body), want)
	}
	data := make([]float64, rows*cols)
	trigger := g.TriggerRow()
	for s := 0; s < cols; s++ {
		for c := 0; c < rows; c++ {
			off := (s*rows + c) * 4
			raw := float64(int32(binary.LittleEndian.Uint32(body[off : off+4])))
			switch {
			case c != trigger:
				raw *= Gain
			case mode == TriggerZero:
				raw = 0
			}
			data[c*cols+s] = raw
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

// EncodeBody is the inverse of DecodeBody for a preserved trigger row.
func EncodeBody(m *mat.Dense) []byte {
	rows, cols := m.Dims()
	trigger := rows - 1
	body := make([]byte, rows*cols*4)
	for s := 0; s < cols; s++ {
		for c := 0; c < rows; c++ {
			v := m.At(c, s)
			if c != trigger {
				v /= Gain
			}
			off := (s*rows + c) * 4
			binary.LittleEndian.PutUint32(body[off:off+4], uint32(int32(math.Round(v))))
		}
	}
	return body
}
