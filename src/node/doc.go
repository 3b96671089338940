// Package node implements the reactive component of a mailmesh node.
//
// A node owns a mailbox, named after its identity, and a bounded table of
// neighbors. It relays short text messages across an ad-hoc mesh of such
// nodes, and propagates a cooperative shutdown when one of them leaves.
//
// Event Loop
//
// Everything a node does happens on the goroutine running Node.Run, which
// selects over four sources: mailbox notifications, operator requests coming
// from the console proxy, Leave calls, and SIGINT. One event is processed at a
// time, so the neighbor table is never mutated by two activities at once.
//
// Mailbox notifications are one-shot. When one fires, the node enters the
// Draining state and receives records until the mailbox reports ErrEmpty,
// dispatching each one, then re-arms the notification and goes back to Idle.
//
// Discovery
//
// A node started with an initial peer registers that peer in its own table,
// then sends it a REGISTRATION record. The receiver registers the sender in
// return. There is no acknowledgement: if the receiver's table is full, the
// initiator never learns about it.
//
// Routing
//
// A TEXT record addressed to the node itself is handed to the console proxy
// and goes no further. Otherwise, if the destination is a live neighbor, the
// node forwards the record to it directly. If not, the node floods a copy to
// every live neighbor except the one it came from and the original sender.
// Every forwarded copy carries the forwarding node's identity in LastHop.
//
// There is no hop limit and no de-duplication, so in a mesh that contains a
// cycle a flooded record can circulate indefinitely.
//
// Termination
//
// A node that leaves, on SIGINT or Node.Leave, sends an EXIT record to every
// live neighbor and tears itself down. A node that receives an EXIT forwards
// it, keeping the original Origin, to every live neighbor except the one it
// came from, and tears itself down as well. Teardown destroys the mailbox, so
// its name disappears and nobody can register this node again.
//
// Inbox
//
// Delivered messages are recorded in a store.Store, in memory by default or
// in a Badger database when Config.Store is set, and are served by the HTTP
// API.
package node
