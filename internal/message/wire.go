package message

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// WireRequest is what actually travels through a request queue. Payload
// bytes are opaque here; the replication package owns encoding/decoding the
// concrete Payload behind them (SPEC_FULL.md treats wire format for task
// payloads as an explicit non-goal beyond this opaque-blob boundary).
type WireRequest struct {
	RequestID     string
	SenderNode    string
	SenderThread  string
	Database      string
	Cluster       string
	IsWrite       bool
	ExpectedSync  int
	PayloadBlob   []byte
}

// WireResponse is what travels back through a node's shared response queue
// before the local message bus demultiplexes it into a thread inbox.
type WireResponse struct {
	RequestID          string
	ResponderNode      string
	DestinationNode    string
	DestinationThread  string
	ResultBlob         []byte
	ErrMessage         string
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("message: decode: %w", err)
	}
	return nil
}

// EncodeRequest serializes a WireRequest for transit through a Queue.
func EncodeRequest(r WireRequest) ([]byte, error) { return encode(r) }

// DecodeRequest parses bytes produced by EncodeRequest.
func DecodeRequest(data []byte) (WireRequest, error) {
	var r WireRequest
	err := decode(data, &r)
	return r, err
}

// EncodeResponse serializes a WireResponse for transit through a Queue.
func EncodeResponse(r WireResponse) ([]byte, error) { return encode(r) }

// DecodeResponse parses bytes produced by EncodeResponse.
func DecodeResponse(data []byte) (WireResponse, error) {
	var r WireResponse
	err := decode(data, &r)
	return r, err
}
