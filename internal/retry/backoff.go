// Package retry implements the additive back-off used by AdmissionController
// and the broker's 10s retry loops (BrokerClient submits, WorkerRuntime
// listener reconnects and handler failures). spec.md §9
// calls out consolidating rclone's repeated sleep-loop-with-min/max-sleep
// pattern (seen identically in backend/sftp and backend/ftp) into one shared
// primitive instead of hand-rolling it per component.
package retry

import (
	"context"
	"time"
)

// Backoff produces a monotonically growing sleep duration, capped at Max,
// that resets to Min after a Reset call.
type Backoff struct {
	Min  time.Duration
	Max  time.Duration
	Step time.Duration // amount added to the sleep duration on every Next

	current time.Duration
}

// NewAdmissionBackoff matches spec.md §4.2: starts at 1s, grows additively,
// capped at 180s.
func NewAdmissionBackoff() *Backoff {
	return &Backoff{Min: time.Second, Max: 180 * time.Second, Step: time.Second}
}

// NewBrokerBackoff matches spec.md §4.3/§4.8: flat 10s retry loop.
func NewBrokerBackoff() *Backoff {
	return &Backoff{Min: 10 * time.Second, Max: 10 * time.Second, Step: 0}
}

// Next returns the next sleep duration and advances internal state.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Min
	}
	d := b.current
	b.current += b.Step
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the backoff to its minimum sleep duration.
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for the next back-off duration or until ctx is done, whichever
// comes first. It returns ctx.Err() if the context was the reason it woke.
func (b *Backoff) Sleep(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
