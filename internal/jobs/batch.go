package jobs

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/engine"
	"github.com/boolpae/vrstt-dispatch/internal/fetch"
	"github.com/boolpae/vrstt-dispatch/internal/wave"
)

// BatchSTT implements the vr_stt queue handler (spec.md §4.9): classify the
// incoming blob's audio format, decode or separate as needed, run the engine
// over the resulting mono PCM, and reply with a framed cell-stream.
type BatchSTT struct {
	Pool       *engine.InstancePool
	Fetcher    *fetch.Fetcher
	Decoder    string // stt.decoder: external subprocess producing a PCM sidecar
	Separator  string // stt.separator: external subprocess splitting stereo input
	MiniBatch  int     // stt.mini_batch
	FeatureDim int     // stt.mfcc_size
	ServerName string
	Log        *logrus.Entry
}

// Handle implements broker.Handler.
func (h *BatchSTT) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	data, err := h.resolvePayload(ctx, payload)
	if err != nil {
		return broker.FormatReply(broker.StatusFileMissing, h.ServerName, -1, err.Error()), nil
	}

	kind := wave.Classify(data)
	switch kind {
	case wave.KindWave2Ch:
		reply, err := h.handleStereo(ctx, data)
		if err != nil {
			h.Log.WithError(err).Warn("jobs: stereo batch-stt failed")
			return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, err.Error()), nil
		}
		return reply, nil
	case wave.KindMPEG2Ch:
		// Stereo MPEG is detected but never decoded (spec.md §9 open
		// question, resolved: logged and rejected, matching the original
		// vr_server.cc switch which has no MPEG_2CH case).
		h.Log.WithField("kind", kind).Warn("jobs: stereo MPEG input is unsupported")
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, "jobs: stereo MPEG input is not supported"), nil
	default:
		cells, err := h.decodeAndRecognize(ctx, data, kind)
		if err != nil {
			h.Log.WithError(err).Warn("jobs: batch-stt failed")
			return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, err.Error()), nil
		}
		text := FormatCells(cells)
		return broker.FormatReply(broker.StatusSuccess, h.ServerName, int64(len(text)), text), nil
	}
}

func (h *BatchSTT) resolvePayload(ctx context.Context, payload []byte) ([]byte, error) {
	candidate := strings.TrimSpace(string(payload))
	if !looksLikeURI(candidate) {
		return payload, nil
	}
	if h.Fetcher == nil {
		return nil, fmt.Errorf("jobs: payload is a URI but no fetcher is configured")
	}
	return h.Fetcher.Fetch(ctx, candidate, nil)
}

func looksLikeURI(s string) bool {
	for _, scheme := range []string{"file://", "mount://", "http://", "https://", "ftp://", "ftps://", "sftp://"} {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

// handleStereo splits data via the separator subprocess and STTs each
// channel independently, joining replies with "||" (spec.md §4.9, §6.4).
func (h *BatchSTT) handleStereo(ctx context.Context, data []byte) ([]byte, error) {
	leftPath, rightPath, cleanup, err := h.runSeparator(ctx, data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	leftPCM, err := os.ReadFile(leftPath)
	if err != nil {
		return nil, fmt.Errorf("jobs: reading separated left channel: %w", err)
	}
	rightPCM, err := os.ReadFile(rightPath)
	if err != nil {
		return nil, fmt.Errorf("jobs: reading separated right channel: %w", err)
	}

	leftCells, err := h.recognizePCM(pcm16LEFromBytes(leftPCM))
	if err != nil {
		return nil, fmt.Errorf("jobs: left channel stt: %w", err)
	}
	rightCells, err := h.recognizePCM(pcm16LEFromBytes(rightPCM))
	if err != nil {
		return nil, fmt.Errorf("jobs: right channel stt: %w", err)
	}

	payload := FormatCells(leftCells) + "||" + FormatCells(rightCells)
	return broker.FormatReply(broker.StatusSuccess, h.ServerName, int64(len(payload)), payload), nil
}

// runSeparator writes data to a temp input file and invokes the configured
// separator subprocess, which is expected to produce "<input>_left.pcm" and
// "<input>_right.pcm" alongside it (spec.md §4.9, §8 scenario 6).
func (h *BatchSTT) runSeparator(ctx context.Context, data []byte) (leftPath, rightPath string, cleanup func(), err error) {
	in, err := os.CreateTemp("", "vrstt-stereo-*.bin")
	if err != nil {
		return "", "", nil, err
	}
	inPath := in.Name()
	if _, err := in.Write(data); err != nil {
		in.Close()
		os.Remove(inPath)
		return "", "", nil, err
	}
	in.Close()

	base := strings.TrimSuffix(inPath, filepath.Ext(inPath))
	leftPath = base + "_left.pcm"
	rightPath = base + "_right.pcm"

	cleanup = func() {
		os.Remove(inPath)
		os.Remove(leftPath)
		os.Remove(rightPath)
	}

	if h.Separator == "" {
		cleanup()
		return "", "", nil, fmt.Errorf("jobs: stereo input received but stt.separator is not configured")
	}

	cmd := exec.CommandContext(ctx, h.Separator, inPath, leftPath, rightPath)
	if out, runErr := cmd.CombinedOutput(); runErr != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("jobs: separator subprocess failed: %w: %s", runErr, out)
	}
	return leftPath, rightPath, cleanup, nil
}

// decodeAndRecognize turns a classified blob into PCM, decoding through the
// external subprocess when the blob isn't already a supported mono 8kHz
// 16-bit stream (spec.md §4.9).
func (h *BatchSTT) decodeAndRecognize(ctx context.Context, data []byte, kind wave.Kind) ([]engine.Cell, error) {
	var pcm []byte
	if kind == wave.KindStandardWave {
		pcm = wave.StripStandardHeader(data)
	} else {
		decoded, err := h.runDecoder(ctx, data)
		if err != nil {
			return nil, err
		}
		pcm = decoded
	}
	return h.recognizePCM(pcm16LEFromBytes(pcm))
}

// runDecoder invokes the configured external decoder subprocess to produce a
// PCM sidecar for non-standard input (compressed MPEG, non-8kHz/16-bit WAVE,
// or unclassified raw audio).
func (h *BatchSTT) runDecoder(ctx context.Context, data []byte) ([]byte, error) {
	if h.Decoder == "" {
		return nil, fmt.Errorf("jobs: non-standard audio input but stt.decoder is not configured")
	}
	in, err := os.CreateTemp("", "vrstt-decode-in-*.bin")
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, err
	}
	in.Close()

	outPath := in.Name() + ".pcm"
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, h.Decoder, in.Name(), outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("jobs: decoder subprocess failed: %w: %s", err, out)
	}
	return os.ReadFile(outPath)
}

// recognizePCM chunks pcm into mini-batches of FeatureDim-wide feature
// vectors and steps an engine instance over them, releasing the instance
// back to the pool when done.
func (h *BatchSTT) recognizePCM(samples []int16) ([]engine.Cell, error) {
	inst, err := h.Pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("jobs: acquiring engine instance: %w", err)
	}
	defer h.Pool.Release(inst)

	miniBatch := h.MiniBatch
	if miniBatch <= 0 {
		miniBatch = 128
	}
	featureDim := h.FeatureDim
	if featureDim <= 0 {
		featureDim = 1
	}

	frameIndex := 0
	for start := 0; start < len(samples); start += miniBatch * featureDim {
		end := start + miniBatch*featureDim
		if end > len(samples) {
			end = len(samples)
		}
		vector := make([]float32, end-start)
		for i, s := range samples[start:end] {
			vector[i] = float32(s) / 32768.0
		}
		if err := inst.Step(frameIndex, featureDim, vector); err != nil {
			return nil, fmt.Errorf("jobs: engine step failed at frame %d: %w", frameIndex, err)
		}
		frameIndex++
	}

	return inst.FinalResult(frameIndex)
}

func pcm16LEFromBytes(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
