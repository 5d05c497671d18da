package frontend

import (
	"bytes"
	"encoding/gob"
)

// encodeSignedRequest/decodeSignedRequest serialize a SignedRequest for
// storage in the client-signatures table. gob is used here, matching the
// teacher's own choice for persisting structured records (pstorage,
// sm.TSM.TakeSnapshot).
func encodeSignedRequest(s SignedRequest) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func decodeSignedRequest(b []byte) (SignedRequest, error) {
	var s SignedRequest
	if len(b) == 0 {
		return s, nil
	}
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s)
	return s, err
}
