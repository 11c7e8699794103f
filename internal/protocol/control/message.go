package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Method is the closed set of control message tags.
type Method string

const (
	MethodKeepAlive      Method = "keepAlive"
	MethodStartSession   Method = "startSession"
	MethodStartBuilding  Method = "startBuilding"
	MethodStopSession    Method = "stopSession"
	MethodComputeLabel   Method = "computeLabel"
	MethodLabelComputed  Method = "labelComputed"
	MethodSessionStopped Method = "sessionStopped"
	MethodStopBuilding   Method = "stopBuilding"
	MethodError          Method = "error"
)

var knownMethods = map[Method]struct{}{
	MethodKeepAlive:      {},
	MethodStartSession:   {},
	MethodStartBuilding:  {},
	MethodStopSession:    {},
	MethodComputeLabel:   {},
	MethodLabelComputed:  {},
	MethodSessionStopped: {},
	MethodStopBuilding:   {},
	MethodError:          {},
}

func (m Method) Known() bool {
	_, ok := knownMethods[m]
	return ok
}

// Field names used on the wire.
const (
	FieldMethod        = "method"
	FieldCount         = "count"
	FieldSessionName   = "sessionName"
	FieldDataPath      = "dataPath"
	FieldModelPath     = "modelPath"
	FieldNewModelPath  = "newModelPath"
	FieldUpdateCount   = "updateCount"
	FieldLabel         = "label"
	FieldTrueLabel     = "trueLabel"
	FieldAccuracy      = "accuracy"
	FieldValidAccuracy = "validAccuracy"
	FieldReason        = "reason"
	FieldRaw           = "raw"
	FieldComment       = "comment"
	FieldDetail        = "detail"
)

const (
	ReasonInvalidMessage  = "invalidMessage"
	ReasonOperationFailed = "operationFailed"
)

var (
	ErrInvalidMessage = errors.New("control: invalid message")
	ErrMissingField   = errors.New("control: missing field")
)

// Message is one flat control object. Fields never contains the method key.
type Message struct {
	Method Method
	Fields map[string]any
}

func New(method Method) Message {
	return Message{Method: method, Fields: map[string]any{}}
}

// With returns a copy of m with key set to v.
func (m Message) With(key string, v any) Message {
	fields := make(map[string]any, len(m.Fields)+1)
	for k, existing := range m.Fields {
		fields[k] = existing
	}
	fields[key] = v
	return Message{Method: m.Method, Fields: fields}
}

func (m Message) Has(key string) bool {
	_, ok := m.Fields[key]
	return ok
}

// String returns a field as text. Numbers are returned in their wire form.
func (m Message) String(key string) (string, bool) {
	switch v := m.Fields[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// RequireString returns a non-empty string field or an ErrInvalidMessage.
func (m Message) RequireString(key string) (string, error) {
	v, ok := m.String(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %w %q", ErrInvalidMessage, ErrMissingField, key)
	}
	return v, nil
}

// Int accepts integral numbers and decimal strings.
func (m Message) Int(key string) (int, error) {
	switch v := m.Fields[key].(type) {
	case nil:
		return 0, fmt.Errorf("%w: %w %q", ErrInvalidMessage, ErrMissingField, key)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidMessage, key)
		}
		return int(n), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidMessage, key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidMessage, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidMessage, key)
	}
}

// Keys lists the field names in sorted order.
func (m Message) Keys() []string {
	out := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Pack encodes m as one flat JSON object.
func Pack(m Message) ([]byte, error) {
	if strings.TrimSpace(string(m.Method)) == "" {
		return nil, fmt.Errorf("%w: empty method", ErrInvalidMessage)
	}
	obj := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		if k == FieldMethod {
			continue
		}
		obj[k] = v
	}
	obj[FieldMethod] = string(m.Method)
	return json.Marshal(obj)
}

// Unpack decodes one flat JSON object with a non-empty string method.
// Any other shape is an ErrInvalidMessage.
func Unpack(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Message{}, fmt.Errorf("%w: trailing data", ErrInvalidMessage)
	}
	if obj == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}
	method, ok := obj[FieldMethod].(string)
	if !ok || strings.TrimSpace(method) == "" {
		return Message{}, fmt.Errorf("%w: missing method", ErrInvalidMessage)
	}
	delete(obj, FieldMethod)
	for k, v := range obj {
		switch v.(type) {
		case map[string]any, []any:
			return Message{}, fmt.Errorf("%w: field %q is not a scalar", ErrInvalidMessage, k)
		}
	}
	return Message{Method: Method(method), Fields: obj}, nil
}

// WriteMessage writes m followed by a newline.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := Pack(m)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
