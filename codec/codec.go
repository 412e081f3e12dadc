// Package codec defines the seam between raw broker bytes and the
// domain event type a Processor consumes. The core never imports a
// concrete domain codec; JSON is provided only as a reference
// implementation exercised by this repository's own tests and example
// wiring.
package codec

import (
	"encoding/json"

	"github.com/gmbyapa/grouphost/stream"
)

// Codec converts a record's raw value bytes into the event type a
// Processor expects. A codec error means the record is malformed; the
// caller drops it and continues.
type Codec interface {
	Decode(streamName stream.Name, value []byte) (interface{}, error)
}

// JSON decodes a record's value as JSON into a fresh value produced by
// New for every call.
type JSON struct {
	New func() interface{}
}

// Decode implements Codec.
func (j JSON) Decode(_ stream.Name, value []byte) (interface{}, error) {
	target := j.New()
	if err := json.Unmarshal(value, target); err != nil {
		return nil, err
	}
	return target, nil
}
