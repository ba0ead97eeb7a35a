// Package dispatch implements the Dispatcher (spec.md §4.7), the pipeline
// that drives Watcher → IndexParser → AdmissionController → Fetcher →
// AuthTokenCache → BrokerClient and owns the in-flight index. Grounded on the
// original source's main loop (src/inotify/inotify.cc) and submission path
// (src/vr/vr.cc), re-architected per spec.md §9 onto explicit objects with
// their own mutexes instead of global counters.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/admission"
	"github.com/boolpae/vrstt-dispatch/internal/auth"
	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/fetch"
	"github.com/boolpae/vrstt-dispatch/internal/index"
	"github.com/boolpae/vrstt-dispatch/internal/jobrecord"
	"github.com/boolpae/vrstt-dispatch/internal/watch"
)

// Options configures a Dispatcher, mirroring the inotify.* config keys from
// spec.md §6.5.
type Options struct {
	Queue             string // broker queue name, default "vr_stt"
	ByteCeilingActive bool
	OutputRoot        string
	DailyOutput       bool
	UniqueOutput      bool
	DeleteOnSuccess   bool
	Preprocess        string
	Postprocess       string
	SubmitTimeout     time.Duration
	Creds             *fetch.Credentials
}

// Dispatcher wires the pipeline components together and spawns one task per
// JobRecord.
type Dispatcher struct {
	watcher   *watch.Watcher
	parser    *index.Parser
	admission *admission.Controller
	inFlight  *jobrecord.Index
	fetcher   *fetch.Fetcher
	authCache *auth.Cache
	broker    *broker.Client
	opts      Options
	log       *logrus.Entry

	uniqueSub atomic.Int64
}

// New constructs a Dispatcher.
func New(w *watch.Watcher, p *index.Parser, adm *admission.Controller, fetcher *fetch.Fetcher, authCache *auth.Cache, brokerClient *broker.Client, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.Queue == "" {
		opts.Queue = "vr_stt"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		watcher:   w,
		parser:    p,
		admission: adm,
		inFlight:  jobrecord.NewIndex(),
		fetcher:   fetcher,
		authCache: authCache,
		broker:    brokerClient,
		opts:      opts,
		log:       log.WithField("component", "dispatcher"),
	}
}

// InFlight exposes the in-flight index for telemetry/tests.
func (d *Dispatcher) InFlight() *jobrecord.Index { return d.inFlight }

// Run drives the Watcher event loop until ctx is cancelled or the watcher
// reports a fatal error. Each event may expand to several records; each
// record is dispatched in its own goroutine so that a slow admission wait or
// submission never blocks the rest of the batch (spec.md §4.7's
// "back-pressure loop" applies per record, not per event).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			d.handleEvent(ctx, ev)
		case err, ok := <-d.watcher.Errs():
			if !ok {
				continue
			}
			return err
		}
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev watch.Event) {
	records, err := d.parser.Expand(ev.Dir, ev.Filename)
	if err != nil {
		// Parse failures for a single event are logged and skipped without
		// aborting the watcher (spec.md §4.6, §7).
		d.log.WithError(err).WithField("filename", ev.Filename).Warn("dispatch: index expansion failed")
		return
	}
	for _, r := range records {
		go d.handleRecord(ctx, r)
	}
}

// handleRecord never drops a record for back-pressure: it blocks on admission
// (the AdmissionController's own back-off governs the sleep), then runs the
// submission task (spec.md §4.7 "back-pressure loop"). A failed size probe, a
// URI already in flight, or a cancelled context ends the record without a
// submission.
func (d *Dispatcher) handleRecord(ctx context.Context, r *jobrecord.Record) {
	tok, err := d.admit(ctx, r)
	if err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: admission failed")
		return
	}

	terminal := jobrecord.StateFailed
	defer func() {
		tok.Release()
		d.inFlight.Remove(r.URI, terminal)
	}()

	if err := d.runHook(ctx, d.opts.Preprocess, r); err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: preprocess hook failed")
		return
	}

	if d.submit(ctx, r) {
		terminal = jobrecord.StateCompleted
	}

	if err := d.runHook(ctx, d.opts.Postprocess, r); err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: postprocess hook failed")
	}
}

// admit probes the record's size (when the byte ceiling is active),
// acquires an AdmissionController token, and inserts the record into the
// in-flight index atomically with admission (spec.md §3 InFlightIndex
// invariants, §4.7 step 2).
func (d *Dispatcher) admit(ctx context.Context, r *jobrecord.Record) (*admission.Token, error) {
	var size int64
	if d.opts.ByteCeilingActive {
		s, err := d.fetcher.Probe(ctx, r.URI, d.opts.Creds)
		if err != nil {
			return nil, fmt.Errorf("dispatch: probing %s: %w", r.URI, err)
		}
		size = s
	}
	r.FileSize = size

	tok, err := d.admission.Acquire(ctx, size)
	if err != nil {
		return nil, err
	}
	if err := d.inFlight.Insert(r); err != nil {
		tok.Release()
		return nil, err
	}
	return tok, nil
}

// submissionBody is the JSON header line prepended to the broker payload,
// carrying the metadata passthrough and bearer token the REST backend needs
// to authorize and route the job (spec.md §4.7 step 3).
type submissionBody struct {
	Metadata map[string]string `json:"metadata"`
	URI      string            `json:"uri"`
	Token    string            `json:"token"`
}

// submit resolves download_path, fetches the source bytes, attaches the auth
// token, and submits to the broker, retrying exactly once on an
// authorization failure (spec.md §4.7 step 3, state machine).
func (d *Dispatcher) submit(ctx context.Context, r *jobrecord.Record) bool {
	downloadPath := d.resolveOutputPath(r)
	r.OutputPath = downloadPath

	data, err := d.fetcher.Fetch(ctx, r.URI, d.opts.Creds)
	if err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: fetch failed")
		return false
	}

	reply, ok := d.submitOnce(ctx, r, data)
	if ok {
		d.finishSuccess(ctx, r)
		return true
	}
	if reply != nil && reply.Status == broker.StatusUnauthorized && !r.AuthRetried {
		r.AuthRetried = true
		d.authCache.Invalidate()
		reply, ok = d.submitOnce(ctx, r, data)
		if ok {
			d.finishSuccess(ctx, r)
			return true
		}
	}
	if reply != nil {
		d.log.WithField("uri", r.URI).WithField("status", reply.Status).Warn("dispatch: submission terminated in failure")
	}
	return false
}

func (d *Dispatcher) submitOnce(ctx context.Context, r *jobrecord.Record, data []byte) (*broker.Reply, bool) {
	token, err := d.authCache.Token(ctx)
	if err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: acquiring auth token failed")
		return nil, false
	}

	header, err := json.Marshal(submissionBody{Metadata: r.PassthroughMetadata(), URI: r.URI, Token: token})
	if err != nil {
		d.log.WithError(err).Warn("dispatch: marshaling submission header failed")
		return nil, false
	}

	payload := append(append(header, '\n'), data...)
	raw, err := d.broker.Submit(ctx, d.opts.Queue, payload, d.opts.SubmitTimeout)
	if err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: broker submit failed")
		return nil, false
	}

	reply, err := broker.ParseReply(raw)
	if err != nil {
		d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: malformed broker reply")
		return nil, false
	}
	return &reply, reply.Status == broker.StatusSuccess
}

func (d *Dispatcher) finishSuccess(ctx context.Context, r *jobrecord.Record) {
	if d.opts.DeleteOnSuccess && r.Protocol() == jobrecord.ProtocolFile {
		if ds, ok := d.fetcher.Source(jobrecord.ProtocolFile).(interface{ Delete(string) error }); ok {
			if err := ds.Delete(r.URI); err != nil {
				d.log.WithError(err).WithField("uri", r.URI).Warn("dispatch: delete-on-success failed")
			}
		}
	}
}

func (d *Dispatcher) resolveOutputPath(r *jobrecord.Record) string {
	if path, ok := r.Metadata["download_path"]; ok && path != "" {
		return path
	}
	sub := int(d.uniqueSub.Add(1))
	return buildOutputPath(d.opts.OutputRoot, d.opts.DailyOutput, d.opts.UniqueOutput, time.Now(), sub)
}

func (d *Dispatcher) runHook(ctx context.Context, hook string, r *jobrecord.Record) error {
	if hook == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, hook, r.URI, r.OutputPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hook %q: %w: %s", hook, err, out)
	}
	return nil
}
