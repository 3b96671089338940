package peers

import (
	"fmt"

	"github.com/mosaicnetworks/mailmesh/src/net"
)

// Neighbor is an entry of the NeighborTable.
type Neighbor struct {
	ID     int32
	Outbox net.Outbox
}

// Send sends msg through the neighbor's outbox.
func (n *Neighbor) Send(msg net.Message) error {
	return n.Outbox.TrySend(msg)
}

func (n *Neighbor) String() string {
	return fmt.Sprintf("Neighbor{%d}", n.ID)
}
