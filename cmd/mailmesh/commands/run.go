package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mosaicnetworks/mailmesh/src/mailmesh"
	"github.com/mosaicnetworks/mailmesh/src/proxy/console"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var _config = NewDefaultCLIConfig()

// NewRunCmd returns the command that starts a mailmesh node. The node's
// identity is the id of the current process.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [pid]",
		Short:   "Run node",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: loadConfig,
		RunE:    runMailmesh,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runMailmesh(cmd *cobra.Command, args []string) error {
	id := int32(os.Getpid())
	logger := _config.Mailmesh.Logger()

	c := console.NewConsole(id, os.Stdin, os.Stdout, logger)
	_config.Mailmesh.Proxy = c

	engine := mailmesh.NewMailmesh(&_config.Mailmesh, id)

	if err := engine.Init(); err != nil {
		logger.WithError(err).Error("Cannot initialize engine")
		return err
	}

	if len(args) == 1 {
		engine.Connect(_config.Peer)
	}

	fmt.Printf("Process %d ready. Enter messages as \"<pid> <text>\"\n", id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := c.Run(ctx); err != nil {
			logger.WithError(err).Error("Console stopped")
		}
	}()

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Mailmesh.DataDir, "Top-level directory for configuration and mailboxes")
	cmd.Flags().String("log", _config.Mailmesh.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Mailmesh.LogFile, "Also write logs to this file")

	// Transport
	cmd.Flags().String("mailbox-dir", _config.Mailmesh.MailboxDir, "Directory shared by the mailboxes of every node on the host")
	cmd.Flags().Int("queue-capacity", _config.Mailmesh.QueueCapacity, "Number of records a mailbox holds")
	cmd.Flags().DurationP("timeout", "t", _config.Mailmesh.Timeout, "Mailbox connection timeout")
	cmd.Flags().Int("max-pool", _config.Mailmesh.MaxPool, "Connection pool size max")

	// Node
	cmd.Flags().Int("max-neighbors", _config.Mailmesh.MaxNeighbors, "Capacity of the neighbor table")
	cmd.Flags().Int("inbox-size", _config.Mailmesh.InboxSize, "Number of delivered messages cached for the API")
	cmd.Flags().Bool("store", _config.Mailmesh.Store, "Persist delivered messages in a badger database")
	cmd.Flags().String("db", _config.Mailmesh.DatabaseDir, "Directory of the badger databases")

	// Service
	cmd.Flags().Bool("no-service", _config.Mailmesh.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Mailmesh.ServiceAddr, "Listen IP:Port for HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	configFile, err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		peer, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		_config.Peer = int32(peer)
	}

	// If --datadir was explicitly set, but not --mailbox-dir or --db, this
	// will update the default directories to be inside the new datadir
	_config.Mailmesh.SetDataDir(_config.Mailmesh.DataDir)

	logger := _config.Mailmesh.Logger()

	if configFile != "" {
		logger.Debugf("Using config file: %s", configFile)
	} else {
		logger.Debugf("No config file found in: %s", _config.Mailmesh.DataDir)
	}

	logger.WithFields(logrus.Fields{
		"mailmesh.DataDir":       _config.Mailmesh.DataDir,
		"mailmesh.LogLevel":      _config.Mailmesh.LogLevel,
		"mailmesh.LogFile":       _config.Mailmesh.LogFile,
		"mailmesh.MailboxDir":    _config.Mailmesh.MailboxDir,
		"mailmesh.QueueCapacity": _config.Mailmesh.QueueCapacity,
		"mailmesh.Timeout":       _config.Mailmesh.Timeout,
		"mailmesh.MaxPool":       _config.Mailmesh.MaxPool,
		"mailmesh.MaxNeighbors":  _config.Mailmesh.MaxNeighbors,
		"mailmesh.InboxSize":     _config.Mailmesh.InboxSize,
		"mailmesh.Store":         _config.Mailmesh.Store,
		"mailmesh.DatabaseDir":   _config.Mailmesh.DatabaseDir,
		"mailmesh.NoService":     _config.Mailmesh.NoService,
		"mailmesh.ServiceAddr":   _config.Mailmesh.ServiceAddr,
		"Peer":                   _config.Peer,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper. The logger is only built
// once both passes are done, so that a log level or log file set in the
// config file is honoured.
func bindFlagsLoadViper(cmd *cobra.Command) (string, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return "", err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return "", err
	}

	// look for config file in [datadir]/mailmesh.toml (.json, .yaml also work)
	viper.SetConfigName("mailmesh")
	viper.AddConfigPath(_config.Mailmesh.DataDir)

	configFile := ""
	if err := viper.ReadInConfig(); err == nil {
		configFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return "", err
	}

	// second unmarshal to read from config file
	return configFile, viper.Unmarshal(_config)
}
