// Package codec centralizes manifest and metadata encoding.
//
// Codec selection is a compatibility boundary: snapshot manifests record the
// codec name alongside the payload, and readers select the codec by that
// name instead of guessing from the bytes.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "yaml":
		return YAML{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}

	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}

	return b
}

// Default is the codec used for newly written manifests. Existing manifests
// are self-describing and are opened by selecting the codec by name.
var Default Codec = JSON{}
