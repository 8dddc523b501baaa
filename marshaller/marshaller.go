package marshaller

import "emperror.dev/errors"

// ErrTypeDecode is returned when Decode gets something other than text or bytes.
const ErrTypeDecode = errors.Sentinel("decode input must be string or []byte")

// Marshaller turns payloads and results into the bytes stored in and
// published through the shared store, and back.
type Marshaller interface {
	// Encode serializes v and applies the encryption layer, if any.
	Encode(v interface{}) ([]byte, error)
	// Decode reverses Encode. data must be a string or a []byte.
	Decode(data interface{}) (interface{}, error)
	// Open strips the encryption layer only.
	Open(data []byte) ([]byte, error)
}
