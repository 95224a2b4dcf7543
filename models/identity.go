// Package models holds the shared data types exchanged between the core
// components: identity, pairing, transfer, and progress reporting.
package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EndpointIDSize is the byte length of an EndpointId and a SecretKey.
const EndpointIDSize = 32

// EndpointId is the 32-byte public key identifying an endpoint on the network.
type EndpointId [EndpointIDSize]byte

// String returns the lowercase hex encoding of the endpoint ID.
func (id EndpointId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the endpoint ID is the zero value.
func (id EndpointId) IsZero() bool {
	return id == EndpointId{}
}

// MarshalJSON encodes the endpoint ID as a hex string rather than a
// 32-element byte array.
func (id EndpointId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a hex-string endpoint ID.
func (id *EndpointId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEndpointId(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEndpointId decodes a hex-encoded endpoint ID.
func ParseEndpointId(s string) (EndpointId, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return EndpointId{}, fmt.Errorf("decode endpoint id: %w", err)
	}
	if len(raw) != EndpointIDSize {
		return EndpointId{}, fmt.Errorf("decode endpoint id: want %d bytes, got %d", EndpointIDSize, len(raw))
	}

	var id EndpointId
	copy(id[:], raw)
	return id, nil
}
