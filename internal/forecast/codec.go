package forecast

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

const codecVersion = 1

type envelope struct {
	Version int    `json:"version"`
	Model   *Model `json:"model"`
}

// Encode serializes m as snappy-compressed JSON.
func Encode(m *Model) ([]byte, error) {
	b, err := json.Marshal(envelope{Version: codecVersion, Model: m})
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return snappy.Encode(nil, b), nil
}

// Decode reverses Encode and checks the coefficient vector matches the
// model's structure.
func Decode(data []byte) (*Model, error) {
	b, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decode model: decompress: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("decode model: unsupported version %d", env.Version)
	}
	m := env.Model
	if m == nil {
		return nil, fmt.Errorf("decode model: empty payload")
	}
	if len(m.Coef) != m.columns() {
		return nil, fmt.Errorf("decode model: %d coefficients, want %d", len(m.Coef), m.columns())
	}
	return m, nil
}
