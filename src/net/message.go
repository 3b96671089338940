package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the purpose of a Message.
type Kind int32

const (
	// Registration announces the sender as a new neighbor of the receiver.
	Registration Kind = iota
	// Text carries an operator payload towards Destination.
	Text
	// Exit asks the receiver to propagate a shutdown and terminate.
	Exit
)

// String ...
func (k Kind) String() string {
	switch k {
	case Registration:
		return "REGISTRATION"
	case Text:
		return "TEXT"
	case Exit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

const (
	// PayloadSize is the fixed number of payload bytes in a record.
	PayloadSize = 20

	// RecordSize is the size of an encoded Message: four int32 fields followed
	// by the payload.
	RecordSize = 4*4 + PayloadSize
)

// ErrBadRecord is returned when decoding a record that is not a well-formed
// Message.
var ErrBadRecord = errors.New("malformed record")

// Message is the fixed-shape record exchanged between mailboxes. It is a value
// type; forwarding produces a modified copy.
type Message struct {
	LastHop     int32
	Origin      int32
	Destination int32
	Kind        Kind
	Payload     [PayloadSize]byte
}

// NewTextMessage creates a TEXT message. Text longer than PayloadSize bytes is
// truncated.
func NewTextMessage(lastHop, origin, destination int32, text string) Message {
	msg := Message{
		LastHop:     lastHop,
		Origin:      origin,
		Destination: destination,
		Kind:        Text,
	}
	copy(msg.Payload[:], text)
	return msg
}

// NewRegistrationMessage creates the REGISTRATION record a node sends to a
// peer it has just added to its own table.
func NewRegistrationMessage(origin int32) Message {
	return Message{
		LastHop: origin,
		Origin:  origin,
		Kind:    Registration,
	}
}

// NewExitMessage creates an EXIT record initiated by origin and sent by
// lastHop.
func NewExitMessage(lastHop, origin int32) Message {
	return Message{
		LastHop: lastHop,
		Origin:  origin,
		Kind:    Exit,
	}
}

// Forward returns a copy of the message with LastHop set to self.
func (m Message) Forward(self int32) Message {
	m.LastHop = self
	return m
}

// Text returns the payload without its zero padding.
func (m Message) Text() string {
	if i := bytes.IndexByte(m.Payload[:], 0); i >= 0 {
		return string(m.Payload[:i])
	}
	return string(m.Payload[:])
}

// String ...
func (m Message) String() string {
	return fmt.Sprintf("%s{last:%d from:%d to:%d %q}",
		m.Kind, m.LastHop, m.Origin, m.Destination, m.Text())
}

// Marshal encodes the message into a RecordSize byte slice, numeric fields in
// network byte order.
func (m Message) Marshal() []byte {
	buf := make([]byte, RecordSize)
	m.MarshalTo(buf)
	return buf
}

// MarshalTo encodes the message into buf, which must be at least RecordSize
// bytes long.
func (m Message) MarshalTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.LastHop))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Origin))
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.Destination))
	binary.BigEndian.PutUint32(buf[12:16], uint32(m.Kind))
	copy(buf[16:RecordSize], m.Payload[:])
}

// Unmarshal decodes a record produced by Marshal.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrBadRecord, len(data), RecordSize)
	}

	kind := Kind(binary.BigEndian.Uint32(data[12:16]))
	if kind < Registration || kind > Exit {
		return fmt.Errorf("%w: unknown kind %d", ErrBadRecord, kind)
	}

	m.LastHop = int32(binary.BigEndian.Uint32(data[0:4]))
	m.Origin = int32(binary.BigEndian.Uint32(data[4:8]))
	m.Destination = int32(binary.BigEndian.Uint32(data[8:12]))
	m.Kind = kind
	copy(m.Payload[:], data[16:RecordSize])

	return nil
}
