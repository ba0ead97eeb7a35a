// Package realtime implements RealtimeChannels (spec.md §4.10): per-call_id
// long-lived streaming STT state, bypassing the Watcher/IndexParser/Fetcher
// pipeline entirely in favor of a FIRST/MID/LAST packet state machine.
package realtime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/boolpae/vrstt-dispatch/internal/engine"
)

// Channel is per-call_id streaming state (spec.md §3 RealtimeChannel).
type Channel struct {
	callID string
	inst   *engine.Instance

	mu         sync.Mutex // enforces the one-concurrent-stt-per-channel invariant
	buffer     []int16
	frameIndex int
	emitted    strings.Builder

	resetPeriod int
	miniBatch   int
	featureDim  int
}

func newChannel(inst *engine.Instance, resetPeriod, miniBatch, featureDim int) *Channel {
	if resetPeriod <= 0 {
		resetPeriod = 1 << 30 // effectively unbounded when unset
	}
	if miniBatch <= 0 {
		miniBatch = 128
	}
	if featureDim <= 0 {
		featureDim = 1
	}
	return &Channel{inst: inst, resetPeriod: resetPeriod, miniBatch: miniBatch, featureDim: featureDim}
}

func (c *Channel) reinit(callID string) {
	c.callID = callID
	c.buffer = c.buffer[:0]
	c.frameIndex = 0
	c.emitted.Reset()
	c.inst.Reset()
}

// feed pushes samples into the channel, stepping the engine for every
// complete minibatch, finalizing and resetting whenever the reset period is
// exceeded (spec.md §4.10). It returns the text emitted during this call.
func (c *Channel) feed(samples []int16, last bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, samples...)
	batchLen := c.miniBatch * c.featureDim

	var out strings.Builder
	for len(c.buffer) >= batchLen {
		if err := c.stepBatch(c.buffer[:batchLen]); err != nil {
			return "", err
		}
		c.buffer = c.buffer[batchLen:]
		if err := c.maybeFinalizeOnReset(&out); err != nil {
			return "", err
		}
	}

	if last {
		if len(c.buffer) > 0 {
			padded := padWithSilence(c.buffer, batchLen)
			if err := c.stepBatch(padded); err != nil {
				return "", err
			}
			c.buffer = c.buffer[:0]
		}
		cells, err := c.inst.FinalResult(c.frameIndex)
		if err != nil {
			return "", fmt.Errorf("realtime: final result for call %s: %w", c.callID, err)
		}
		writeCells(&out, cells)
	} else {
		cells, err := c.inst.IntermediateResult(c.frameIndex)
		if err != nil {
			return "", fmt.Errorf("realtime: intermediate result for call %s: %w", c.callID, err)
		}
		writeCells(&out, cells)
	}

	return out.String(), nil
}

func (c *Channel) stepBatch(vector16 []int16) error {
	vector := make([]float32, len(vector16))
	for i, s := range vector16 {
		vector[i] = float32(s) / 32768.0
	}
	if err := c.inst.Step(c.frameIndex, c.featureDim, vector); err != nil {
		return fmt.Errorf("realtime: engine step failed for call %s at frame %d: %w", c.callID, c.frameIndex, err)
	}
	c.frameIndex++
	return nil
}

// maybeFinalizeOnReset implements spec.md §4.10's reset-period bound: once
// frameIndex exceeds resetPeriod the current segment is finalized and the
// engine is reset, keeping memory bounded for long-lived calls.
func (c *Channel) maybeFinalizeOnReset(out *strings.Builder) error {
	if c.frameIndex <= c.resetPeriod {
		return nil
	}
	cells, err := c.inst.FinalResult(c.frameIndex)
	if err != nil {
		return fmt.Errorf("realtime: reset-period finalize for call %s: %w", c.callID, err)
	}
	writeCells(out, cells)
	if err := c.inst.Reset(); err != nil {
		return fmt.Errorf("realtime: engine reset for call %s: %w", c.callID, err)
	}
	c.frameIndex = 0
	return nil
}

func writeCells(out *strings.Builder, cells []engine.Cell) {
	for _, cell := range cells {
		fmt.Fprintf(out, "%g\t%g\t%s\t%g\n", cell.Start, cell.End, cell.Token, cell.Likelihood)
	}
}

// padWithSilence fills out a short final minibatch with zero-valued samples
// (spec.md §4.10 "flush... with silence padding to fill a minibatch"). No
// pre-loaded silence feature vector is used.
func padWithSilence(buf []int16, targetLen int) []int16 {
	if len(buf) >= targetLen {
		return buf[:targetLen]
	}
	padded := make([]int16, targetLen)
	copy(padded, buf)
	return padded
}
