package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/retry"
)

// Client is the BrokerClient (spec.md §4.3): submits named jobs to a remote
// job-queue broker over one multiplexed yamux session and correlates
// asynchronous completions by correlation id.
type Client struct {
	addr string
	log  *logrus.Entry

	mu      sync.Mutex
	session *yamux.Session
	conn    net.Conn
}

// NewClient constructs a Client dialing addr lazily on first Submit.
func NewClient(addr string, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{addr: addr, log: log.WithField("component", "broker-client")}
}

func (c *Client) ensureSession() (*yamux.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && !c.session.IsClosed() {
		return c.session, nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sess, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.session = sess
	return sess, nil
}

// Submit synchronously submits payload to queueName and waits for the
// correlated reply, retrying transient broker errors with a flat 10s backoff
// per spec.md §4.3 ("Failure behavior"). Permanent errors propagate
// immediately.
func (c *Client) Submit(ctx context.Context, queueName string, payload []byte, timeout time.Duration) ([]byte, error) {
	b := retry.NewBrokerBackoff()
	for {
		reply, err := c.submitOnce(ctx, queueName, payload, timeout)
		if err == nil {
			return reply, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		c.log.WithError(err).Warn("broker: transient submit failure, retrying")
		if sleepErr := b.Sleep(ctx); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}

func (c *Client) submitOnce(ctx context.Context, queueName string, payload []byte, timeout time.Duration) ([]byte, error) {
	sess, err := c.ensureSession()
	if err != nil {
		return nil, &transientError{err}
	}

	stream, err := sess.OpenStream()
	if err != nil {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		return nil, &transientError{err}
	}
	defer stream.Close()

	if timeout > 0 {
		stream.SetDeadline(time.Now().Add(timeout))
	}
	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	}

	corrID := uuid.NewString()
	if err := writeFrame(stream, frame{Queue: queueName, CorrID: corrID, Payload: payload}); err != nil {
		return nil, &transientError{err}
	}

	f, err := readFrame(stream)
	if err != nil {
		return nil, &transientError{err}
	}
	if f.CorrID != corrID {
		return nil, fmt.Errorf("broker: correlation id mismatch: sent %s got %s", corrID, f.CorrID)
	}
	return f.Payload, nil
}

// Close tears down the underlying session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
