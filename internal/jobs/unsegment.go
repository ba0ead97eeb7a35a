package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/broker"
)

// UnsegmentOnly implements the vr_text_only queue handler (spec.md §4.9):
// payload is a cell-stream, emit post-processed text with no timing. A
// sentence is flushed once accumulated input exceeds SyntaxThreshold.
type UnsegmentOnly struct {
	SyntaxThreshold int // stt equivalent of a syntax-break-length config
	ServerName      string
	Log             *logrus.Entry
}

// Handle implements broker.Handler.
func (h *UnsegmentOnly) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	cells, err := ParseCells(string(payload))
	if err != nil {
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, err.Error()), nil
	}

	threshold := h.SyntaxThreshold
	if threshold <= 0 {
		threshold = 80
	}

	var sentences []string
	var cur strings.Builder
	for _, c := range cells {
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(c.Token)
		if cur.Len() > threshold {
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		sentences = append(sentences, cur.String())
	}

	text := strings.Join(sentences, "\n")
	return broker.FormatReply(broker.StatusSuccess, h.ServerName, int64(len(text)), text), nil
}

// UnsegmentWithTime implements the vr_text queue handler (spec.md §4.9):
// payload is a cell-stream serialized to a temp file and handed to the
// external timed post-processor, which splits sentences on PauseLength.
type UnsegmentWithTime struct {
	Postprocessor string // stt.unsegment_pause's companion external tool
	PauseLength   float64
	ServerName    string
	Log           *logrus.Entry
}

// Handle implements broker.Handler.
func (h *UnsegmentWithTime) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	if h.Postprocessor == "" {
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, "jobs: unsegment-with-time has no postprocessor configured"), nil
	}

	in, err := os.CreateTemp("", "vrstt-unsegment-in-*.cells")
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	if _, err := in.WriteString(string(payload)); err != nil {
		in.Close()
		return nil, err
	}
	in.Close()

	outPath := in.Name() + ".out"
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, h.Postprocessor, fmt.Sprintf("%g", h.PauseLength), in.Name(), outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.Log.WithError(err).Warn("jobs: unsegment-with-time postprocessor failed")
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, fmt.Sprintf("postprocessor failed: %v: %s", err, out)), nil
	}

	text, err := os.ReadFile(outPath)
	if err != nil {
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, err.Error()), nil
	}
	return broker.FormatReply(broker.StatusSuccess, h.ServerName, int64(len(text)), string(text)), nil
}
