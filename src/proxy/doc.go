// Package proxy defines ConsoleProxy: the interface between a node and the
// operator.
//
// Operator requests flow into the node through SubmitCh, each one carrying a
// destination and a short text, and a channel on which the node reports the
// outcome. Messages addressed to the node flow out through Deliver.
//
// There are two implementations:
//
// - InmemProxy: uses native callback handlers, so a node can be embedded and
// driven from Go code or from tests.
//
// - Console: wraps an InmemProxy around a line-oriented reader and writer,
// which is how the command line node talks to a terminal.
package proxy
