package node

import (
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// leave is the local entry point of the termination protocol: EXIT goes to
// every live neighbor, then the node tears itself down.
func (n *Node) leave() error {
	n.logger.Info("Leaving")

	err := n.fanOutExit(net.NewExitMessage(n.id, n.id))

	return multierr.Append(err, n.teardown())
}

// handleExit is the remote entry point. The EXIT is passed on with its
// Origin untouched, to every live neighbor but the one it came from.
func (n *Node) handleExit(msg net.Message) error {
	n.logger.WithFields(logrus.Fields{
		"origin":   msg.Origin,
		"last_hop": msg.LastHop,
	}).Info("Received EXIT")

	err := n.fanOutExit(msg.Forward(n.id), msg.LastHop)

	return multierr.Append(err, n.teardown())
}

func (n *Node) fanOutExit(exit net.Message, exclude ...int32) error {
	targets := n.table.ForEachLiveExcept(exclude...)

	n.logger.WithField("targets", len(targets)).Debug("Sending EXIT")

	for _, nb := range targets {
		sent, err := n.send(nb, exit)
		if err != nil {
			return err
		}
		if sent {
			n.stats.exits.Add(1)
		}
	}

	return nil
}

// teardown destroys the mailbox, which removes the node's name, then closes
// the neighbor table, the transport and the inbox store. It runs once; later calls return the
// first result.
func (n *Node) teardown() error {
	n.teardownOnce.Do(func() {
		n.logger.Debug("Teardown")

		var err error
		if n.mailbox != nil {
			err = multierr.Append(err, n.mailbox.Destroy())
		}
		err = multierr.Append(err, n.table.Close())
		err = multierr.Append(err, n.trans.Close())
		err = multierr.Append(err, n.store.Close())

		n.teardownErr = err

		if err != nil {
			n.logger.WithError(err).Error("Teardown")
		} else {
			n.logger.Info("Terminated")
		}

		// nothing may log once doneCh is closed
		n.setState(state.Shutdown)
		close(n.doneCh)
	})

	return n.teardownErr
}
