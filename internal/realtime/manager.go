package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/engine"
)

// Manager owns the process-wide call_id → Channel map and implements the
// stt(call_id, bytes, state) contract (spec.md §4.10).
//
// Pooled is spec.md §9's "runtime configuration" resolution of the open
// question: the original source built per-call_id allocation and a fixed
// channel pool as mutually exclusive compile-time modes; here it is one
// Manager field flipped at construction time.
type Manager struct {
	pool        *engine.InstancePool
	resetPeriod int
	miniBatch   int
	featureDim  int
	pooled      bool
	log         *logrus.Entry

	mu       sync.Mutex
	channels map[string]*Channel
	idle     []*Channel // fixed free-list, only populated when pooled
}

// Options configure a Manager.
type Options struct {
	ResetPeriod int // stt.reset_period / realtime.reset_period
	MiniBatch   int // stt.mini_batch
	FeatureDim  int // stt.mfcc_size
	Pooled      bool
	PoolSize    int // realtime.startnum, used only when Pooled
}

// NewManager constructs a Manager backed by pool for engine instance
// allocation.
func NewManager(pool *engine.InstancePool, opts Options, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		pool:        pool,
		resetPeriod: opts.ResetPeriod,
		miniBatch:   opts.MiniBatch,
		featureDim:  opts.FeatureDim,
		pooled:      opts.Pooled,
		log:         log.WithField("component", "realtime"),
		channels:    make(map[string]*Channel),
	}
	if opts.Pooled {
		size := opts.PoolSize
		if size <= 0 {
			size = 4
		}
		for i := 0; i < size; i++ {
			inst, err := pool.Acquire()
			if err != nil {
				return nil, fmt.Errorf("realtime: allocating pooled channel %d: %w", i, err)
			}
			m.idle = append(m.idle, newChannel(inst, m.resetPeriod, m.miniBatch, m.featureDim))
		}
	}
	return m, nil
}

// ChannelCount returns the number of call_ids currently tracked, used by
// tests asserting the channel count returns to a prior baseline (spec.md §8
// scenario 5).
func (m *Manager) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Stt implements the per-call streaming contract: it locates or allocates
// the call_id's channel, feeds samples, and tears the channel down on LAST.
func (m *Manager) Stt(ctx context.Context, callID string, samples []int16, state PacketState) (string, error) {
	ch, err := m.acquire(callID, state)
	if err != nil {
		return "", err
	}

	text, err := ch.feed(samples, state == StateLast)
	if state == StateLast {
		m.release(callID, ch)
	}
	return text, err
}

// HandleFrame parses a raw vr_realtime wire frame, runs Stt, and renders the
// result, prepending the speaker-separation header line when enabled
// (spec.md §6.4).
func (m *Manager) HandleFrame(ctx context.Context, raw []byte, speakerSeparation bool, node string) ([]byte, error) {
	callID, state, samples, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	text, err := m.Stt(ctx, callID, samples, state)
	if err != nil {
		return nil, err
	}
	if speakerSeparation {
		text = SpeakerHeader(node) + text
	}
	return []byte(text), nil
}

func (m *Manager) acquire(callID string, state PacketState) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[callID]; ok {
		return ch, nil
	}

	if m.pooled {
		if len(m.idle) == 0 {
			return nil, fmt.Errorf("realtime: no idle pooled channel available for call %s", callID)
		}
		ch := m.idle[len(m.idle)-1]
		m.idle = m.idle[:len(m.idle)-1]
		ch.reinit(callID)
		m.channels[callID] = ch
		return ch, nil
	}

	inst, err := m.pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("realtime: acquiring engine instance for call %s: %w", callID, err)
	}
	ch := newChannel(inst, m.resetPeriod, m.miniBatch, m.featureDim)
	ch.reinit(callID)
	m.channels[callID] = ch
	return ch, nil
}

func (m *Manager) release(callID string, ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, callID)
	if m.pooled {
		m.idle = append(m.idle, ch)
		return
	}
	m.pool.Release(ch.inst)
}
