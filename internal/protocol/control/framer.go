package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxMessageBytes bounds one control message on the wire.
const DefaultMaxMessageBytes = 128 * 1024

// SplitMessages splits one read from a control stream into message
// candidates. Newlines delimit messages and an unterminated segment yields
// every complete JSON value it holds. Nothing carries over to the next read:
// an incomplete trailing fragment is returned as its own candidate so the
// caller can reject it.
func SplitMessages(chunk []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(chunk, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		out = append(out, splitValues(line)...)
	}
	return out
}

func splitValues(segment []byte) [][]byte {
	var out [][]byte
	dec := json.NewDecoder(bytes.NewReader(segment))
	consumed := 0
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		switch {
		case err == nil:
			out = append(out, bytes.Clone(raw))
			consumed = int(dec.InputOffset())
		case errors.Is(err, io.EOF):
			return out
		default:
			if rest := bytes.TrimSpace(segment[consumed:]); len(rest) > 0 {
				out = append(out, bytes.Clone(rest))
			}
			return out
		}
	}
}
