package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// valueEnvelope is the self-describing byte envelope used to move a Value
// through a queuesub.Queue, the same type-tag-plus-gob-fields shape the
// replication package uses for payloads.
type valueEnvelope struct {
	Value Value
}

func init() {
	gob.Register(stringValue{})
}

// EncodeValue serializes v into a self-describing blob.
func EncodeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(valueEnvelope{Value: v}); err != nil {
		return nil, fmt.Errorf("store: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeValue parses a blob produced by EncodeValue. Engine implementations
// that define their own Value types must register them with
// RegisterValueKind at startup.
func DecodeValue(data []byte) (Value, error) {
	var env valueEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("store: decode value: %w", err)
	}
	return env.Value, nil
}

// RegisterValueKind makes a concrete Value type decodable by DecodeValue.
func RegisterValueKind(v Value) { gob.Register(v) }
