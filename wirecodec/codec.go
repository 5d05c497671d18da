// Package wirecodec auto-detects and converts between the two wire
// framings the front-end accepts: textual JSON and a MessagePack-compatible
// binary framing. Detection and translation are the only responsibilities
// here; envelope semantics live in rpctypes and frontend.
package wirecodec

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"github.com/txraft/rpcnode/rpctypes"
)

// Framing identifies how a buffer of bytes is encoded on the wire.
type Framing int

const (
	// FramingNone means the input was empty; no framing could be detected.
	FramingNone Framing = iota
	// FramingText is JSON text, chosen when the first byte is '{'.
	FramingText
	// FramingBinary is MessagePack-compatible binary framing, chosen
	// whenever the input is non-empty and does not start with '{'.
	FramingBinary
)

// Detect inspects the first byte of input to pick a framing, per the
// policy: empty input -> FramingNone; '{' -> FramingText; anything else ->
// FramingBinary.
func Detect(input []byte) Framing {
	if len(input) == 0 {
		return FramingNone
	}
	if input[0] == '{' {
		return FramingText
	}
	return FramingBinary
}

// Encode renders v using the given framing. v is typically a
// map[string]interface{}, an *rpctypes.Response, or an *rpctypes.ErrorValue.
func Encode(v interface{}, f Framing) ([]byte, error) {
	switch f {
	case FramingText:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return b, nil
	case FramingBinary:
		return encodeBinary(v)
	default:
		return nil, errors.Errorf("cannot encode with framing %v", f)
	}
}

// Decode parses data using the given framing into a generic JSON-shaped
// value (map[string]interface{}, []interface{}, or a scalar).
func Decode(data []byte, f Framing) (interface{}, error) {
	switch f {
	case FramingText:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.WithStack(err)
		}
		return v, nil
	case FramingBinary:
		return decodeBinary(data)
	default:
		return nil, errors.Errorf("cannot decode with framing %v", f)
	}
}

// encodeBinary round-trips v through JSON first so that struct values with
// `json` tags and map[string]interface{} values alike produce the same
// generic shape, then appends that shape as MessagePack using msgp's
// interface{} codec (no code generation required for dynamic envelopes).
func encodeBinary(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return msgp.AppendIntf(nil, generic)
}

func decodeBinary(data []byte) (interface{}, error) {
	v, _, err := msgp.ReadIntfBytes(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return normalizeMsgpValue(v), nil
}

// toGeneric converts v into the map[string]interface{} / []interface{} /
// scalar shape msgp.AppendIntf expects, by bouncing it through encoding/json.
func toGeneric(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, errors.WithStack(err)
	}
	return generic, nil
}

// normalizeMsgpValue copies msgp's decoded maps and arrays into fresh
// map[string]interface{} / []interface{} values, recursively. Scalars are
// returned unchanged: []byte stays []byte and integers stay int64, unlike
// JSON decoding, which yields base64 strings and float64.
func normalizeMsgpValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeMsgpValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeMsgpValue(val)
		}
		return out
	default:
		return t
	}
}

// DecodeError builds the INVALID_REQUEST error value emitted when decoding
// fails or the decoded value is not a JSON object. The caller picks the
// framing for the error response: FramingText if detection itself failed,
// otherwise the detected framing.
func DecodeError(reason string) *rpctypes.ErrorValue {
	return rpctypes.NewErrorValue(0, rpctypes.InvalidRequest, reason)
}
