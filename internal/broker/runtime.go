package broker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/retry"
)

// Handler processes one submitted job payload for a queue and returns the
// reply bytes to send back, or an error if the handler itself failed. The
// Runtime logs such an error, answers with an E10200 reply, and keeps the
// queue slot through one 10s broker backoff before releasing it.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Runtime is the worker-side half of the broker protocol (spec.md §4.8,
// WorkerRuntime): it accepts the yamux session dialed by a Client, reads
// submission frames off accepted streams, dispatches each to the handler
// registered for its queue name, and writes the handler's reply back on the
// same stream.
//
// Concurrency per queue is bounded by the concurrency value passed to
// RegisterHandler (spec.md §6.5 "<queue>.worker", defaulting to a global
// worker count when unset).
type Runtime struct {
	addr string
	log  *logrus.Entry

	mu       sync.Mutex
	handlers map[string]registeredHandler
}

type registeredHandler struct {
	handler Handler
	sem     chan struct{}
}

// NewRuntime constructs a Runtime listening on addr once Run is called.
func NewRuntime(addr string, log *logrus.Entry) *Runtime {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runtime{
		addr:     addr,
		log:      log.WithField("component", "broker-runtime"),
		handlers: make(map[string]registeredHandler),
	}
}

// RegisterHandler binds handler to queueName with concurrency bounding how
// many jobs from that queue may be in flight simultaneously.
func (r *Runtime) RegisterHandler(queueName string, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queueName] = registeredHandler{handler: handler, sem: make(chan struct{}, concurrency)}
}

// Run accepts connections until ctx is cancelled, reconnecting with a flat
// 10s backoff on listener failure per spec.md §4.8 ("on exception: 10s
// backoff, reconnect attempt, continue").
func (r *Runtime) Run(ctx context.Context) error {
	b := retry.NewBrokerBackoff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.acceptLoop(ctx); err != nil {
			r.log.WithError(err).Warn("broker: listener failure, backing off before retry")
			if sleepErr := b.Sleep(ctx); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		return nil
	}
}

func (r *Runtime) acceptLoop(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go r.serveConn(ctx, conn)
	}
}

func (r *Runtime) serveConn(ctx context.Context, conn net.Conn) {
	sess, err := yamux.Server(conn, nil)
	if err != nil {
		r.log.WithError(err).Warn("broker: yamux handshake failed")
		conn.Close()
		return
	}
	defer sess.Close()

	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			return
		}
		go r.serveStream(ctx, stream)
	}
}

func (r *Runtime) serveStream(ctx context.Context, stream *yamux.Stream) {
	defer stream.Close()

	f, err := readFrame(stream)
	if err != nil {
		r.log.WithError(err).Warn("broker: failed reading submission frame")
		return
	}

	r.mu.Lock()
	h, ok := r.handlers[f.Queue]
	r.mu.Unlock()
	if !ok {
		r.log.WithField("queue", f.Queue).Warn("broker: no handler registered for queue")
		return
	}

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-h.sem }()

	start := time.Now()
	reply, err := h.handler(ctx, f.Payload)
	if err != nil {
		r.log.WithError(err).WithField("queue", f.Queue).Error("broker: handler failed")
		reply = FormatReply(StatusDownloadFailed, "", -1, err.Error())
	}
	r.log.WithField("queue", f.Queue).WithField("elapsed", time.Since(start)).Debug("broker: handled submission")

	if writeErr := writeFrame(stream, frame{Queue: f.Queue, CorrID: f.CorrID, Payload: reply}); writeErr != nil {
		r.log.WithError(writeErr).Warn("broker: failed writing reply frame")
	}
	if err != nil {
		// back off before this queue slot takes its next job
		retry.NewBrokerBackoff().Sleep(ctx)
	}
}
