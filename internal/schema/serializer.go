package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// FormatVersion is the schema wire format version.
const FormatVersion = 2

// ErrSchemaVersion is returned when a serialized schema has another version.
var ErrSchemaVersion = errors.New("schema format version mismatch")

type envelope struct {
	Version int               `json:"version"`
	Schema  *core.TableSchema `json:"schema"`
}

// Marshal serializes a schema with its format version.
func Marshal(ts *core.TableSchema) ([]byte, error) {
	if ts == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	data, err := json.Marshal(envelope{Version: FormatVersion, Schema: ts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", ts.Name, err)
	}
	return data, nil
}

// Unmarshal parses a schema and rejects other format versions.
func Unmarshal(data []byte) (*core.TableSchema, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, env.Version, FormatVersion)
	}
	if env.Schema == nil {
		return nil, fmt.Errorf("failed to unmarshal schema: missing schema body")
	}
	return env.Schema, nil
}
