// Package peers keeps track of the adjacent nodes a node can send to directly.
//
// A neighbor is a peer identity together with an outbox opened on that peer's
// mailbox. The outbox is opened once, when the neighbor is registered, and
// reused for every subsequent send.
//
// The NeighborTable is bounded (5 entries by default) and append-only: entries
// are never removed when a peer dies. Instead, liveness is re-checked every
// time the table is used, through a Prober. A stale entry stays in the table
// and keeps its slot, but Lookup and ForEachLiveExcept ignore it.
//
// Two probers are provided. ProcessProber asks the operating system whether a
// process with the given identity exists, which is what the command line node
// uses since identities are process ids. ProberFunc adapts any function, which
// lets tests and embedders use the in-memory mailbox namespace instead.
package peers
