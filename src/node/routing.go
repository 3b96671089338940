package node

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/sirupsen/logrus"
)

// handleRequest turns an operator request into a TEXT record originating
// here. The operator is told when the destination is not live, and nothing is
// sent in that case.
func (n *Node) handleRequest(req proxy.Request) error {
	if !n.prober.Alive(req.Destination) {
		n.logger.WithField("destination", req.Destination).Info("Destination not live")
		req.Respond(fmt.Errorf("%w: %d", proxy.ErrNotLive, req.Destination))
		return nil
	}

	msg := net.NewTextMessage(n.id, n.id, req.Destination, req.Text)

	err := n.handleText(msg)
	req.Respond(err)

	return err
}

// handleText delivers msg locally if it is addressed to this node, or routes
// a copy of it towards its destination.
func (n *Node) handleText(msg net.Message) error {
	if msg.Destination == n.id {
		return n.deliver(msg)
	}

	return n.route(msg.Forward(n.id), msg.LastHop, msg.Origin)
}

func (n *Node) deliver(msg net.Message) error {
	n.stats.delivered.Add(1)
	n.recordDelivery(msg)

	n.logger.WithFields(logrus.Fields{
		"origin":   msg.Origin,
		"last_hop": msg.LastHop,
	}).Debug("Delivering")

	if err := n.proxy.Deliver(msg); err != nil {
		n.logger.WithError(err).Warn("Console rejected delivery")
	}

	return nil
}

// route sends out directly to its destination when it is a live neighbor, and
// floods it to the live neighbors not in exclude otherwise.
func (n *Node) route(out net.Message, exclude ...int32) error {
	nb, err := n.table.Lookup(out.Destination)
	if err == nil {
		n.logger.WithField("destination", out.Destination).Debug("Forwarding")
		sent, err := n.send(nb, out)
		if sent {
			n.stats.forwarded.Add(1)
		}
		return err
	}

	return n.flood(out, exclude...)
}

func (n *Node) flood(out net.Message, exclude ...int32) error {
	targets := n.table.ForEachLiveExcept(exclude...)

	n.logger.WithFields(logrus.Fields{
		"destination": out.Destination,
		"targets":     len(targets),
	}).Debug("Flooding")

	for _, nb := range targets {
		sent, err := n.send(nb, out)
		if err != nil {
			return err
		}
		if sent {
			n.stats.flooded.Add(1)
		}
	}

	return nil
}

// send tries to send msg to nb. A neighbor that is full or gone is skipped and
// counted as a drop; any other failure is returned.
func (n *Node) send(nb *peers.Neighbor, msg net.Message) (bool, error) {
	err := nb.Send(msg)
	if err == nil {
		return true, nil
	}

	if net.IsExpected(err) {
		n.stats.dropped.Add(1)
		n.metrics.dropped.WithLabelValues(dropReason(err)).Inc()
		n.logger.WithFields(logrus.Fields{
			"peer":  nb.ID,
			"kind":  msg.Kind.String(),
			"error": err,
		}).Warn("Skipping neighbor")
		return false, nil
	}

	return false, fmt.Errorf("sending %s to %d: %w", msg.Kind, nb.ID, err)
}

// handleRegistration is the receiving side of the handshake. A full table, or
// a sender that disappeared in the meantime, is logged and otherwise ignored.
func (n *Node) handleRegistration(msg net.Message) error {
	if msg.Origin == n.id {
		return nil
	}

	idx, err := n.table.Register(msg.Origin)

	switch {
	case err == nil:
		n.logger.WithFields(logrus.Fields{
			"peer":  msg.Origin,
			"index": idx,
		}).Info("Added neighbor")
	case errors.Is(err, peers.ErrCapacityExceeded):
		n.logger.WithField("peer", msg.Origin).Warn("Neighbor table full")
	case net.IsExpected(err):
		n.logger.WithFields(logrus.Fields{
			"peer":  msg.Origin,
			"error": err,
		}).Warn("Cannot register neighbor")
	default:
		return fmt.Errorf("registering %d: %w", msg.Origin, err)
	}

	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, net.ErrFull):
		return "full"
	case errors.Is(err, net.ErrPeerGone), errors.Is(err, net.ErrNotFound):
		return "gone"
	default:
		return "other"
	}
}
