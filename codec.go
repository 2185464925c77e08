package cachekit

import "encoding/json"

// Codec converts application values to and from the opaque payloads the
// engine stores. Implementations are pluggable and selected at Manager
// construction; the engine never inspects encoded bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is the default codec. It is deterministic for map-free values
// and keeps payloads readable when inspecting a store by hand.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
