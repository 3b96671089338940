package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()

	assert.Equal(t, DefaultMaxNeighbors, c.MaxNeighbors)
	assert.Equal(t, DefaultQueueCapacity, c.QueueCapacity)
	assert.Equal(t, DefaultNoService, c.NoService)
	assert.Equal(t, filepath.Join(c.DataDir, DefaultMailboxDir), c.MailboxDir)
	assert.Equal(t, filepath.Join(c.DataDir, DefaultBadgerDir), c.DatabaseDir)
	assert.False(t, c.Store)
	assert.Nil(t, c.Proxy)
}

func TestSetDataDir(t *testing.T) {
	c := NewDefaultConfig()
	c.SetDataDir("/tmp/node1")

	assert.Equal(t, "/tmp/node1", c.DataDir)
	assert.Equal(t, filepath.Join("/tmp/node1", DefaultMailboxDir), c.MailboxDir)
	assert.Equal(t, filepath.Join("/tmp/node1", DefaultBadgerDir), c.DatabaseDir)

	// An explicit mailbox directory is shared between nodes and survives a
	// change of data directory.
	c = NewDefaultConfig()
	c.MailboxDir = "/tmp/shared"
	c.SetDataDir("/tmp/node2")

	assert.Equal(t, "/tmp/shared", c.MailboxDir)
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
		"bogus": logrus.DebugLevel,
	}

	for in, want := range cases {
		if got := LogLevel(in); got != want {
			t.Fatalf("LogLevel(%q) should be %v, not %v", in, want, got)
		}
	}
}

func TestLoggerFileHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmesh.log")

	c := NewDefaultConfig()
	c.LogLevel = "warn"
	c.LogFile = path

	logger := c.Logger()
	logger.Logger.Out = io.Discard

	assert.Equal(t, logrus.WarnLevel, logger.Logger.Level)

	logger.Warn("written to file")
	logger.Debug("below level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.True(t, strings.Contains(content, "written to file"), content)
	assert.False(t, strings.Contains(content, "below level"), content)
	assert.True(t, strings.Contains(content, "prefix=mailmesh"), content)
}
