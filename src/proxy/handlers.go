package proxy

import (
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
)

// ProxyHandler encapsulates callbacks to be called by the InmemProxy. This is
// the true contact surface between a node and its console.
type ProxyHandler interface {
	// DeliverHandler is called when a TEXT message addressed to this node
	// arrives.
	DeliverHandler(msg net.Message) error

	// StateChangeHandler is called by OnStateChanged to notify that the node
	// entered a certain state
	StateChangeHandler(state.State) error
}

// DeliverCallback is a DeliverHandler on its own.
type DeliverCallback func(msg net.Message) error

// Handler turns a DeliverCallback into a ProxyHandler that ignores state
// changes.
func (f DeliverCallback) Handler() ProxyHandler {
	return callbackHandler{deliver: f}
}

type callbackHandler struct {
	deliver DeliverCallback
}

func (h callbackHandler) DeliverHandler(msg net.Message) error {
	return h.deliver(msg)
}

func (h callbackHandler) StateChangeHandler(state.State) error {
	return nil
}
