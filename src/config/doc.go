// Package config defines the configuration for a mailmesh node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. The command line
// additionally looks for an optional mailmesh.toml (or .yaml, .json) file in
// Config.DataDir.
//
// Nodes that want to talk to each other must share the same mailbox directory,
// Config.MailboxDir, since a node's mailbox is a unix socket named after its
// identity in that directory.
package config
