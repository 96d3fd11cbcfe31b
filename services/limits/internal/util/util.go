// services/limits/internal/util/util.go
package util

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// DecodeJSON converts a bus payload into dst. Payloads may already be
// typed, raw JSON bytes or strings, or generic maps from a JSON decoder.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return errors.New("nil payload")
		}
		*dst = *v
		return nil
	case []byte:
		return errors.Wrap(json.Unmarshal(v, dst), "decode")
	case string:
		return errors.Wrap(json.Unmarshal([]byte(v), dst), "decode")
	case nil:
		return errors.New("empty payload")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "re-encode")
		}
		return errors.Wrap(json.Unmarshal(b, dst), "decode")
	}
}
