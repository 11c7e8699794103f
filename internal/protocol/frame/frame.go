package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// HeaderLen is the fixed size of every device header and command frame.
const HeaderLen = 12

var (
	TagControl = [4]byte{'C', 'T', 'R', 'L'}
	TagData    = [4]byte{'D', 'A', 'T', 'A'}
)

var (
	ErrShortHeader    = errors.New("frame: short header")
	ErrConnectionLost = errors.New("frame: connection lost")
	ErrProtocolDesync = errors.New("frame: body size does not match configured geometry")
	ErrBodyTooLarge   = errors.New("frame: body too large")
)

// Header is the fixed wire header: tag, two big-endian words and the body size.
type Header struct {
	Tag      [4]byte
	Code     uint16
	Request  uint16
	BodySize uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s(%d,%d) body=%d", string(h.Tag[:]), h.Code, h.Request, h.BodySize)
}

// Frame is one header plus its body.
type Frame struct {
	Header Header
	Body   []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 8 * 1024 * 1024,
	}
}

// Command is one (code, request) pair sent to the device in a CTRL frame.
type Command struct {
	Name    string
	Code    uint16
	Request uint16
}

var (
	StartScan       = Command{Name: "start-scan", Code: 2, Request: 1}
	StopScan        = Command{Name: "stop-scan", Code: 2, Request: 2}
	StartAcquire    = Command{Name: "start-acquire", Code: 3, Request: 3}
	StopAcquire     = Command{Name: "stop-acquire", Code: 3, Request: 4}
	CloseConnection = Command{Name: "close-connection", Code: 1, Request: 2}
)

// Commands lists every command the device understands.
func Commands() []Command {
	return []Command{StartScan, StopScan, StartAcquire, StopAcquire, CloseConnection}
}

// LookupCommand resolves a decoded CTRL header back to its command.
func LookupCommand(h Header) (Command, bool) {
	if h.Tag != TagControl {
		return Command{}, false
	}
	for _, cmd := range Commands() {
		if cmd.Code == h.Code && cmd.Request == h.Request {
			return cmd, true
		}
	}
	return Command{}, false
}

func EncodeCommand(cmd Command) []byte {
	return EncodeHeader(Header{Tag: TagControl, Code: cmd.Code, Request: cmd.Request})
}

func WriteCommand(w io.Writer, cmd Command) error {
	_, err := w.Write(EncodeCommand(cmd))
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:4], h.Tag[:])
	binary.BigEndian.PutUint16(buf[4:6], h.Code)
	binary.BigEndian.PutUint16(buf[6:8], h.Request)
	binary.BigEndian.PutUint32(buf[8:12], h.BodySize)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	var h Header
	copy(h.Tag[:], b[0:4])
	h.Code = binary.BigEndian.Uint16(b[4:6])
	h.Request = binary.BigEndian.Uint16(b[6:8])
	h.BodySize = binary.BigEndian.Uint32(b[8:12])
	return h, nil
}

// ReceiveExactly reads n bytes, accumulating partial reads. When the peer
// closes early the partial bytes are returned together with ErrConnectionLost.
func ReceiveExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err == nil {
		return buf, nil
	}
	if isConnectionLoss(err) {
		return buf[:got], fmt.Errorf("%w: received %d of %d bytes", ErrConnectionLost, got, n)
	}
	return buf[:got], err
}

func ReadHeader(r io.Reader) (Header, error) {
	raw, err := ReceiveExactly(r, HeaderLen)
	if err != nil {
		if len(raw) > 0 && errors.Is(err, ErrConnectionLost) {
			return Header{}, fmt.Errorf("%w: %w", ErrShortHeader, err)
		}
		return Header{}, err
	}
	return DecodeHeader(raw)
}

// ReadFrame reads a header and the body size it declares.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if h.BodySize > limits.MaxBodyBytes {
		return Frame{}, ErrBodyTooLarge
	}
	body := make([]byte, 0)
	if h.BodySize > 0 {
		body, err = ReceiveExactly(r, int(h.BodySize))
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Body: body}, nil
}

// WriteFrame writes the header and body in one call. A zero BodySize is
// filled in from the body; a non-zero one is sent as given, even when it
// disagrees with len(Body).
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Body)) > uint64(limits.MaxBodyBytes) {
		return ErrBodyTooLarge
	}
	h := f.Header
	if h.BodySize == 0 {
		h.BodySize = uint32(len(f.Body))
	}
	buf := make([]byte, 0, HeaderLen+len(f.Body))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Body...)
	_, err := w.Write(buf)
	return err
}

func isConnectionLoss(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
