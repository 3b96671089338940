package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultMailboxDir is the default name of the folder, within the data
	// directory, where mailbox sockets are created.
	DefaultMailboxDir = "mailboxes"

	// DefaultBadgerDir is the default name of the folder, within the data
	// directory, containing the inbox databases.
	DefaultBadgerDir = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel      = "info"
	DefaultServiceAddr   = "127.0.0.1:8000"
	DefaultMaxNeighbors  = 5
	DefaultQueueCapacity = 10
	DefaultTimeout       = 1000 * time.Millisecond
	DefaultMaxPool       = 2
	DefaultNoService     = true
	DefaultInboxSize     = 100
	DefaultStore         = false
)

// Config contains all the configuration properties of a mailmesh node.
type Config struct {
	// DataDir is the top-level directory containing configuration and the
	// mailbox directory.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// MailboxDir is the directory shared by every node on the host. A node's
	// mailbox is a unix socket in this directory, named after its identity.
	MailboxDir string `mapstructure:"mailbox-dir"`

	// MaxNeighbors bounds the neighbor table.
	MaxNeighbors int `mapstructure:"max-neighbors"`

	// QueueCapacity is the number of records a mailbox holds before senders
	// get ErrFull.
	QueueCapacity int `mapstructure:"queue-capacity"`

	// Timeout applies to every connection to another node's mailbox.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// InboxSize is the number of delivered messages kept for the /inbox
	// endpoint.
	InboxSize int `mapstructure:"inbox-size"`

	// Store activates persistence of the inbox in a Badger database. Each
	// node uses a sub-directory of DatabaseDir named after its identity.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing the inbox databases.
	DatabaseDir string `mapstructure:"db"`

	// Proxy is the console proxy through which the node receives requests and
	// delivers messages.
	Proxy proxy.ConsoleProxy

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:       DefaultDataDir(),
		LogLevel:      DefaultLogLevel,
		MailboxDir:    DefaultMailboxPath(),
		MaxNeighbors:  DefaultMaxNeighbors,
		QueueCapacity: DefaultQueueCapacity,
		Timeout:       DefaultTimeout,
		MaxPool:       DefaultMaxPool,
		NoService:     DefaultNoService,
		ServiceAddr:   DefaultServiceAddr,
		InboxSize:     DefaultInboxSize,
		Store:         DefaultStore,
		DatabaseDir:   DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the mailbox and
// database directories if they are currently set to the default values.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.MailboxDir == DefaultMailboxPath() {
		c.MailboxDir = filepath.Join(dataDir, DefaultMailboxDir)
	}
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerDir)
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "mailmesh".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(newFileHook(c.logger, c.LogFile))
		}
	}
	return c.logger.WithField("prefix", "mailmesh")
}

func newFileHook(logger *logrus.Logger, path string) logrus.Hook {
	pathMap := lfshook.PathMap{}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logger.WithError(err).Warnf("Failed to open %s, using default stderr", path)
	} else {
		f.Close()
		for _, l := range logrus.AllLevels {
			pathMap[l] = path
		}
	}

	return lfshook.NewHook(pathMap, &logrus.TextFormatter{})
}

// DefaultMailboxPath returns the default mailbox directory.
func DefaultMailboxPath() string {
	return filepath.Join(DefaultDataDir(), DefaultMailboxDir)
}

// DefaultDatabaseDir returns the default path for the inbox databases.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerDir)
}

// DefaultDataDir return the default directory name for top-level mailmesh
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Mailmesh")
		}
		return filepath.Join(home, ".mailmesh")
	}
	// As we cannot guess a stable location, fall back to the temp dir
	return filepath.Join(os.TempDir(), "mailmesh")
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
