// Package payload implements the navigation-stack wire codec.
//
// A conversation's entire navigation history travels inside outgoing button
// payloads; nothing is kept server-side. The wire form is a JSON array of
// frames, each frame an object whose reserved "mid" key selects the menu
// handler and whose remaining keys are handler parameters in insertion order.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxEncodedLen is the hard byte bound VK enforces on a button payload.
const MaxEncodedLen = 255

// MIDKey is the reserved frame key selecting the menu handler.
const MIDKey = "mid"

// ErrMalformedPayload reports a payload that cannot be decoded into a stack.
// Callers treat it as "no payload present", never as a fatal condition.
var ErrMalformedPayload = errors.New("payload: malformed")

// Param is a single named scalar carried by a frame. Order matters: when a
// frame must shrink to fit the wire bound, params are dropped front-first.
type Param struct {
	Key   string
	Value any
}

// String builds a string param.
func String(key, value string) Param { return Param{Key: key, Value: value} }

// Int builds an integer param.
func Int(key string, value int64) Param { return Param{Key: key, Value: value} }

// Bool builds a boolean param.
func Bool(key string, value bool) Param { return Param{Key: key, Value: value} }

// Frame is one step of navigation history. Immutable once emitted: derive new
// frames instead of mutating.
type Frame struct {
	MID    string
	Params []Param
}

// NewFrame builds a frame for the given action id.
func NewFrame(mid string, params ...Param) Frame {
	return Frame{MID: mid, Params: params}
}

// Param returns the value stored under key, if present.
func (f Frame) Param(key string) (any, bool) {
	for _, p := range f.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Int returns the integer param stored under key.
func (f Frame) Int(key string) (int64, bool) {
	v, ok := f.Param(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// String returns the string param stored under key.
func (f Frame) String(key string) (string, bool) {
	v, ok := f.Param(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the boolean param stored under key.
func (f Frame) Bool(key string) (bool, bool) {
	v, ok := f.Param(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Stack is an ordered frame sequence, root first. The leaf frame's mid decides
// which handler runs next. Stacks are never mutated in place; Push and Drop
// derive new stacks.
type Stack []Frame

// Leaf returns the last frame of the stack.
func (s Stack) Leaf() (Frame, bool) {
	if len(s) == 0 {
		return Frame{}, false
	}
	return s[len(s)-1], true
}

// MID returns the leaf frame's action id, or empty for an empty stack.
func (s Stack) MID() string {
	leaf, ok := s.Leaf()
	if !ok {
		return ""
	}
	return leaf.MID
}

// Push derives a new stack with f appended.
func (s Stack) Push(f Frame) Stack {
	out := make(Stack, 0, len(s)+1)
	out = append(out, s...)
	return append(out, f)
}

// Drop derives a new stack with the last n frames removed.
func (s Stack) Drop(n int) Stack {
	if n <= 0 {
		return s
	}
	if n >= len(s) {
		return Stack{}
	}
	out := make(Stack, len(s)-n)
	copy(out, s[:len(s)-n])
	return out
}

// Encode serializes the stack into its wire form, bounded by MaxEncodedLen.
// Frames are discarded from the front (oldest first) until the encoding fits,
// but the leaf frame is never dropped: an unroutable payload is worse than a
// short history. When even the lone leaf exceeds the bound its params are
// dropped front-first, degrading to a minimal {"mid":...} frame.
func Encode(s Stack) []byte {
	if len(s) == 0 {
		return []byte("[]")
	}
	frames := s
	encoded := marshalFrames(frames)
	for len(encoded) > MaxEncodedLen && len(frames) > 1 {
		frames = frames[1:]
		encoded = marshalFrames(frames)
	}
	if len(encoded) > MaxEncodedLen {
		leaf := frames[len(frames)-1]
		for len(encoded) > MaxEncodedLen && len(leaf.Params) > 0 {
			leaf = Frame{MID: leaf.MID, Params: leaf.Params[1:]}
			encoded = marshalFrames(Stack{leaf})
		}
	}
	return encoded
}

// Decode parses a wire payload back into a stack. It is the exact inverse of
// Encode over the frames actually present. Structural problems, nested
// values, or a frame without a mid yield ErrMalformedPayload.
func Decode(data []byte) (Stack, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var stack Stack
	for dec.More() {
		frame, err := decodeFrame(dec)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	return stack, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	d, ok := tok.(json.Delim)
	if !ok || rune(d) != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedPayload, want, tok)
	}
	return nil
}

func decodeFrame(dec *json.Decoder) (Frame, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return Frame{}, err
	}
	var frame Frame
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return Frame{}, fmt.Errorf("%w: non-string key", ErrMalformedPayload)
		}
		valTok, err := dec.Token()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		value, err := scalarValue(valTok)
		if err != nil {
			return Frame{}, err
		}
		if key == MIDKey {
			mid, ok := value.(string)
			if !ok || mid == "" {
				return Frame{}, fmt.Errorf("%w: mid must be a non-empty string", ErrMalformedPayload)
			}
			frame.MID = mid
			continue
		}
		frame.Params = append(frame.Params, Param{Key: key, Value: value})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return Frame{}, err
	}
	if frame.MID == "" {
		return Frame{}, fmt.Errorf("%w: frame without mid", ErrMalformedPayload)
	}
	return frame, nil
}

func scalarValue(tok json.Token) (any, error) {
	switch v := tok.(type) {
	case string:
		return v, nil
	case bool:
		return v, nil
	case json.Number:
		if !strings.ContainsAny(v.String(), ".eE") {
			if n, err := v.Int64(); err == nil {
				return n, nil
			}
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrMalformedPayload, v.String())
		}
		return f, nil
	default:
		// json.Delim (nested object/array) and nil (null) land here.
		return nil, fmt.Errorf("%w: non-scalar frame value", ErrMalformedPayload)
	}
}

func marshalFrames(frames Stack) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		marshalFrame(&buf, f)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func marshalFrame(buf *bytes.Buffer, f Frame) {
	buf.WriteByte('{')
	writeJSONString(buf, MIDKey)
	buf.WriteByte(':')
	writeJSONString(buf, f.MID)
	for _, p := range f.Params {
		buf.WriteByte(',')
		writeJSONString(buf, p.Key)
		buf.WriteByte(':')
		writeJSONValue(buf, p.Value)
	}
	buf.WriteByte('}')
}

func writeJSONString(buf *bytes.Buffer, s string) {
	data, _ := json.Marshal(s)
	buf.Write(data)
}

func writeJSONValue(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		// Params are built through the typed constructors, so this only
		// triggers on a programming error; render the value as text rather
		// than corrupt the payload.
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	buf.Write(data)
}
