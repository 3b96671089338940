package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/proxy/inmem"
	"github.com/sirupsen/logrus"
)

// ErrBadRequest is returned by ParseRequest for lines that do not read
// "<pid> <text>".
var ErrBadRequest = errors.New("bad request")

// Console reads operator requests, one per line, and prints the messages
// delivered to the node.
type Console struct {
	*inmem.InmemProxy

	self int32
	in   io.Reader

	outLock sync.Mutex
	out     io.Writer

	logger *logrus.Entry
}

// NewConsole creates a Console for the node identified by self.
func NewConsole(self int32, in io.Reader, out io.Writer, logger *logrus.Entry) *Console {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	c := &Console{
		self:   self,
		in:     in,
		out:    out,
		logger: logger,
	}

	c.InmemProxy = inmem.NewInmemProxy(c, logger)

	return c
}

// DeliverHandler implements the ProxyHandler interface.
func (c *Console) DeliverHandler(msg net.Message) error {
	return c.printf("[%d] Message from %d: %s\n", c.self, msg.Origin, msg.Text())
}

// StateChangeHandler implements the ProxyHandler interface.
func (c *Console) StateChangeHandler(s state.State) error {
	if s == state.Shutdown {
		c.logger.Debug("Console: node shut down")
	}
	return nil
}

// Run reads requests until the input is exhausted or ctx is cancelled. Lines
// that cannot be parsed and requests to processes that are not live are
// reported on the output; they do not stop the console.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		dest, text, err := ParseRequest(line)
		if err != nil {
			c.printf("%v\n", err)
			continue
		}

		err = c.Submit(ctx, dest, text)
		switch {
		case err == nil:
		case errors.Is(err, proxy.ErrNotLive):
			c.printf("Process %d is not alive\n", dest)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			c.printf("Failed to send to %d: %v\n", dest, err)
		}
	}

	return scanner.Err()
}

func (c *Console) printf(format string, args ...interface{}) error {
	c.outLock.Lock()
	defer c.outLock.Unlock()

	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

// ParseRequest splits a console line into a destination and a text. The text
// is the rest of the line after the destination; it is truncated to the
// payload size when the message is built, not here.
func ParseRequest(line string) (int32, string, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("%w: expected \"<pid> <text>\"", ErrBadRequest)
	}

	dest, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid pid %q", ErrBadRequest, fields[0])
	}

	text := strings.TrimSpace(fields[1])
	if text == "" {
		return 0, "", fmt.Errorf("%w: empty text", ErrBadRequest)
	}

	return int32(dest), text, nil
}
