// Package engine wraps the opaque acoustic/decoding engine described in
// spec.md §6.2. The engine algorithm itself is out of scope (spec.md §1);
// this package only owns instance lifecycle and device selection.
//
// The original source round-robins two GPU devices by stt_job_count % 2
// (_examples/original_source/.../src/vr/vr.cc:538). spec.md §9 flags this as
// a redesign target: "general engine pool with N devices; admission picks
// the least-loaded device, not a modulo counter." InstancePool implements
// that redesign.
package engine

import (
	"fmt"
	"sync"
)

// Cell is one recognized token (spec.md Glossary).
type Cell struct {
	Start, End float64
	Token      string
	Likelihood float64
}

// Master is the shared decoder configuration loaded once per device.
type Master struct {
	Device int
	handle interface{} // opaque native handle, out of scope
}

// CreateMaster loads model/config files for a device. The native loading
// itself is an external collaborator (spec.md §6.2); this stub exists so the
// rest of the system has a concrete type to hold and pass around.
func CreateMaster(device int, configFiles ...string) (*Master, error) {
	return &Master{Device: device}, nil
}

// Instance is a per-task/per-channel decoder state, never shared across
// tasks (spec.md §5: "Engine instances are not shared across tasks").
type Instance struct {
	master *Master
}

// CreateChild allocates a new Instance bound to master.
func (m *Master) CreateChild() (*Instance, error) {
	return &Instance{master: m}, nil
}

// Reset clears the instance's internal decoder state.
func (i *Instance) Reset() error { return nil }

// Step feeds one feature frame into the decoder.
func (i *Instance) Step(frameIndex int, featureDim int, vector []float32) error { return nil }

// FinalResult returns the terminal recognition result up to index.
func (i *Instance) FinalResult(index int) ([]Cell, error) { return nil, nil }

// IntermediateResult returns the in-progress recognition result up to index.
func (i *Instance) IntermediateResult(index int) ([]Cell, error) { return nil, nil }

// Device returns the device id this instance's master is bound to, used by
// InstancePool for least-loaded accounting.
func (i *Instance) Device() int { return i.master.Device }

// InstancePool owns N device masters and hands out instances using a
// least-outstanding-requests policy rather than the original's modulo
// round robin.
type InstancePool struct {
	mu      sync.Mutex
	masters []*Master
	load    []int // outstanding instance count per device index
}

// NewInstancePool creates masters for numDevices, loading configFiles on
// each. numDevices comes from stt.gpu_num (spec.md §6.5); numDevices<=0
// means GPU is disabled and a single CPU-bound device is used.
func NewInstancePool(numDevices int, configFiles ...string) (*InstancePool, error) {
	if numDevices <= 0 {
		numDevices = 1
	}
	p := &InstancePool{
		masters: make([]*Master, numDevices),
		load:    make([]int, numDevices),
	}
	for d := 0; d < numDevices; d++ {
		m, err := CreateMaster(d, configFiles...)
		if err != nil {
			return nil, fmt.Errorf("engine: creating master for device %d: %w", d, err)
		}
		p.masters[d] = m
	}
	return p, nil
}

// Acquire returns a new Instance on the currently least-loaded device.
func (p *InstancePool) Acquire() (*Instance, error) {
	p.mu.Lock()
	least := 0
	for d := 1; d < len(p.load); d++ {
		if p.load[d] < p.load[least] {
			least = d
		}
	}
	p.load[least]++
	master := p.masters[least]
	p.mu.Unlock()

	return master.CreateChild()
}

// Release decrements the load counter for the instance's device, to be
// called when a channel/task finishes with its Instance.
func (p *InstancePool) Release(i *Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := i.Device()
	if d >= 0 && d < len(p.load) && p.load[d] > 0 {
		p.load[d]--
	}
}
