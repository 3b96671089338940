package inmem

import (
	"context"

	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/sirupsen/logrus"
)

//InmemProxy implements the ConsoleProxy interface natively
type InmemProxy struct {
	handler  proxy.ProxyHandler
	submitCh chan proxy.Request
	logger   *logrus.Entry
}

// NewInmemProxy instantiates an InmemProxy from a set of handlers.
// If no logger, a new one is created
func NewInmemProxy(handler proxy.ProxyHandler,
	logger *logrus.Entry) *InmemProxy {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &InmemProxy{
		handler:  handler,
		submitCh: make(chan proxy.Request),
		logger:   logger,
	}
}

/*******************************************************************************
* Submit                                                                       *
*******************************************************************************/

// Submit asks the node to send text to destination and waits for the outcome.
// It returns proxy.ErrNotLive if the destination is not live, or ctx.Err() if
// the node did not pick up or answer the request in time.
func (p *InmemProxy) Submit(ctx context.Context, destination int32, text string) error {
	req := proxy.NewRequest(destination, text)

	select {
	case p.submitCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.RespCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*******************************************************************************
* Implement ConsoleProxy Interface                                             *
*******************************************************************************/

//SubmitCh returns the channel of operator requests
func (p *InmemProxy) SubmitCh() chan proxy.Request {
	return p.submitCh
}

//Deliver calls the deliverHandler
func (p *InmemProxy) Deliver(msg net.Message) error {
	err := p.handler.DeliverHandler(msg)

	p.logger.WithFields(logrus.Fields{
		"origin":   msg.Origin,
		"last_hop": msg.LastHop,
		"text":     msg.Text(),
		"err":      err,
	}).Debug("InmemProxy.Deliver")

	return err
}

//OnStateChanged calls the stateChangeHandler
func (p *InmemProxy) OnStateChanged(s state.State) error {
	err := p.handler.StateChangeHandler(s)

	p.logger.WithFields(logrus.Fields{
		"state": s.String(),
		"err":   err,
	}).Debug("InmemProxy.OnStateChanged")

	return err
}
