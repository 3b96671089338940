package proxy

import (
	"errors"

	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
)

// ErrNotLive is the response to a Request whose destination is not a live
// process. Nothing is sent in that case.
var ErrNotLive = errors.New("destination not live")

// ConsoleProxy is the interface between a node and whatever sits in front of
// the operator. The node reads requests from SubmitCh and hands over every
// TEXT message addressed to it.
type ConsoleProxy interface {
	SubmitCh() chan Request
	Deliver(msg net.Message) error
	OnStateChanged(state.State) error
}

// Request asks the node to send Text to Destination. The node answers on
// RespCh once the message has been routed, or with an error if it could not.
type Request struct {
	Destination int32
	Text        string
	RespCh      chan error
}

// NewRequest creates a Request with a buffered response channel, so the node
// never blocks answering it.
func NewRequest(destination int32, text string) Request {
	return Request{
		Destination: destination,
		Text:        text,
		RespCh:      make(chan error, 1),
	}
}

// Respond sends err on the response channel, if any.
func (r Request) Respond(err error) {
	if r.RespCh == nil {
		return
	}
	select {
	case r.RespCh <- err:
	default:
	}
}
