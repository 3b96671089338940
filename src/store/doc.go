// Package store records the TEXT messages delivered to a node.
//
// Deliveries are numbered from 0 in the order they reach the node. The
// InmemStore only keeps a window of the most recent ones. The BadgerStore
// uses the same window as a cache but persists every delivery in a Badger
// database, so the complete history survives the node and older deliveries
// can still be retrieved once they have rolled out of the cache.
package store
