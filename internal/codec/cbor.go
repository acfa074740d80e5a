// Package codec provides the private wire encoding used for channel
// frames between the supervisor and its children. Payloads round-trip
// arbitrary Go values (maps, slices, structs) on the same machine;
// there is no cross-version compatibility guarantee, since both ends
// of every connection are always the same dispatchd binary.
package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Same logical value always produces
// identical bytes, which keeps frame sizes (and the 4-byte length
// prefix) predictable.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Batches and results travel as map[string]any; CBOR's default
		// map type for untyped targets is map[interface{}]interface{},
		// which callers can't range over with string keys. dispatchd
		// never sends non-string map keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding. Returns
// EncodeError-wrapped errors on failure.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v. Returns DecodeError-wrapped errors
// on failure.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// EncodeError wraps a failure to serialize a channel payload.
type EncodeError struct{ Err error }

func (e *EncodeError) Error() string { return fmt.Sprintf("encode payload: %v", e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError wraps a failure to deserialize a channel payload.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("decode payload: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// NewEncoder returns a streaming CBOR encoder over w, for callers that
// want to encode without an intermediate byte slice.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a streaming CBOR decoder over r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
