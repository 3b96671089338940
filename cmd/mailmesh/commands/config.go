package commands

import (
	"github.com/mosaicnetworks/mailmesh/src/config"
)

// CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Mailmesh config.Config `mapstructure:",squash"`

	// Peer is the identity of the node to register with at startup. It is
	// taken from the optional positional argument of the run command.
	Peer int32
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Mailmesh: *config.NewDefaultConfig(),
	}
}
