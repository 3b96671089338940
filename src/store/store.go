package store

import (
	"time"

	"github.com/ugorji/go/codec"
)

// Delivery is a TEXT message that reached its destination.
type Delivery struct {
	Origin   int32     `json:"origin"`
	LastHop  int32     `json:"last_hop"`
	Text     string    `json:"text"`
	Received time.Time `json:"received"`
}

// Store is an interface for inbox backends.
type Store interface {
	// Append records a delivery and returns its index.
	Append(Delivery) (int, error)
	// Deliveries returns the deliveries recorded after index skip. Pass -1 to
	// start from the first one.
	Deliveries(skip int) ([]Delivery, error)
	// LastIndex returns the index of the last delivery, or -1.
	LastIndex() int
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}

// Marshal returns the JSON encoding of a delivery.
func (d *Delivery) Marshal() ([]byte, error) {
	var b []byte

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	if err := codec.NewEncoderBytes(&b, jh).Encode(d); err != nil {
		return nil, err
	}

	return b, nil
}

// Unmarshal decodes a delivery from its JSON encoding.
func (d *Delivery) Unmarshal(data []byte) error {
	jh := new(codec.JsonHandle)

	return codec.NewDecoderBytes(data, jh).Decode(d)
}
