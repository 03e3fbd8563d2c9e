// Package wire converts audio buffers to and from their transport representation.
package wire

import (
	"encoding/base64"
	"errors"
	"fmt"

	"visitnote/internal/domain"
)

// DecodeError reports a payload that is not valid standard base64.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("decode wire payload at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decode wire payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{domain.ErrDecode, e.Err}
}

// EncodeToWire returns the standard base64 form of b.
func EncodeToWire(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeFromWire reverses EncodeToWire.
func DecodeFromWire(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return nil, &DecodeError{Offset: int64(corrupt), Err: err}
		}
		return nil, &DecodeError{Offset: -1, Err: err}
	}
	return out, nil
}
