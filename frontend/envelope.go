package frontend

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/txraft/rpcnode/rpctypes"
	"github.com/txraft/rpcnode/wirecodec"
)

// decodedRequest is the result of unwrapping a decoded generic value into
// its (optional) signature wrapper and the real envelope underneath.
type decodedRequest struct {
	Signed  bool
	Sig     []byte
	ReqBin  []byte // the req sub-object, re-packed as binary framing, per spec.md §4.3
	MD      string
	Envel   *rpctypes.Envelope
	Params  interface{}
}

// unwrapEnvelope inspects a generic decoded value (map[string]interface{}
// or similar) for a top-level "sig" key per spec.md §3's envelope
// definition, and parses out the real envelope either way.
func unwrapEnvelope(v interface{}) (*decodedRequest, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.New("decoded value is not a JSON object")
	}

	if _, hasSig := m["sig"]; !hasSig {
		env, err := toEnvelope(m)
		if err != nil {
			return nil, err
		}
		return &decodedRequest{Envel: env, Params: env.Params}, nil
	}

	sigB, _ := decodeBytesField(m["sig"])
	mdStr, _ := m["md"].(string)
	reqSub, ok := m["req"]
	if !ok {
		return nil, errors.New("signed request missing req sub-object")
	}
	reqBin, err := wirecodec.Encode(reqSub, wirecodec.FramingBinary)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	reqMap, ok := reqSub.(map[string]interface{})
	if !ok {
		return nil, errors.New("signed request's req sub-object is not a JSON object")
	}
	env, err := toEnvelope(reqMap)
	if err != nil {
		return nil, err
	}
	return &decodedRequest{
		Signed: true,
		Sig:    sigB,
		ReqBin: reqBin,
		MD:     mdStr,
		Envel:  env,
		Params: env.Params,
	}, nil
}

// toEnvelope re-marshals a generic map back through JSON to populate a
// typed rpctypes.Envelope, the simplest way to reuse encoding/json's
// struct-tag mapping against an already-decoded generic value.
func toEnvelope(m map[string]interface{}) (*rpctypes.Envelope, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var env rpctypes.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.WithStack(err)
	}
	return &env, nil
}

// decodeBytesField accepts either a []byte (from binary framing, already
// decoded by msgp) or a base64 JSON string (from text framing) for a
// field typed []byte in the wire shape.
func decodeBytesField(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		b, err := jsonBytesFromBase64(t)
		if err != nil {
			return nil, false
		}
		return b, true
	default:
		return nil, false
	}
}

func jsonBytesFromBase64(s string) ([]byte, error) {
	var b []byte
	// encoding/json already base64-decodes []byte-typed fields when
	// unmarshaling into a concrete struct; here we only have a string
	// because the field arrived inside a generic map, so decode it the
	// same way json.Unmarshal would have.
	quoted := []byte(`"` + s + `"`)
	if err := json.Unmarshal(quoted, &b); err != nil {
		return nil, err
	}
	return b, nil
}
