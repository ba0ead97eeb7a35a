package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/broker"
)

// SSP implements the vr_ssp queue handler (spec.md §4.9): payload is a
// filtered cell-stream; the external classifier utility labels spans of it,
// and class "s0" (non-speech) is excluded from the reply.
type SSP struct {
	Classifier string // ssp.util
	ServerName string
	Log        *logrus.Entry
}

var sspLineFieldRE = regexp.MustCompile(`(\w+)=(\S+)`)

// sspResult is one parsed classifier output line.
type sspResult struct {
	start, end float64
	label      string
}

// Handle implements broker.Handler.
func (h *SSP) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	if h.Classifier == "" {
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, "jobs: ssp has no classifier configured (ssp.util)"), nil
	}

	filtered := filterSSPInput(string(payload))

	in, err := os.CreateTemp("", "vrstt-ssp-in-*.cells")
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	if _, err := in.WriteString(filtered); err != nil {
		in.Close()
		return nil, err
	}
	in.Close()

	cmd := exec.CommandContext(ctx, h.Classifier, in.Name())
	out, err := cmd.Output()
	if err != nil {
		h.Log.WithError(err).Warn("jobs: ssp classifier failed")
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, fmt.Sprintf("classifier failed: %v", err)), nil
	}

	results, err := parseSSPOutput(string(out))
	if err != nil {
		return broker.FormatReply(broker.StatusDecodingFailed, h.ServerName, -1, err.Error()), nil
	}

	var b strings.Builder
	for _, r := range results {
		if r.label == "s0" {
			continue
		}
		fmt.Fprintf(&b, "%g\t%g\t%s\n", r.start, r.end, r.label)
	}
	text := b.String()
	return broker.FormatReply(broker.StatusSuccess, h.ServerName, int64(len(text)), text), nil
}

// filterSSPInput drops the trailing likelihood column from a cell-stream
// before handing it to the classifier, keeping start, end and token; lines
// with fewer than three fields are skipped. Sentence-boundary marker tokens
// are not recognized and pass through like any other token.
func filterSSPInput(cellStream string) string {
	var b strings.Builder
	for _, line := range strings.Split(cellStream, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\n", fields[0], fields[1], fields[2])
	}
	return b.String()
}

// parseSSPOutput parses lines of the form:
//
//	ts=0.12 te=0.45 first=s1:0.92 second=s0:0.08 str=hello there
//
// the label is the class of the "first" (highest scoring) entry.
func parseSSPOutput(out string) ([]sspResult, error) {
	var results []sspResult
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := map[string]string{}
		for _, m := range sspLineFieldRE.FindAllStringSubmatch(line, -1) {
			fields[m[1]] = m[2]
		}
		ts, ok := fields["ts"]
		if !ok {
			return nil, fmt.Errorf("jobs: ssp output line missing ts=: %q", line)
		}
		te, ok := fields["te"]
		if !ok {
			return nil, fmt.Errorf("jobs: ssp output line missing te=: %q", line)
		}
		first, ok := fields["first"]
		if !ok {
			return nil, fmt.Errorf("jobs: ssp output line missing first=: %q", line)
		}
		start, err := strconv.ParseFloat(ts, 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: bad ts in ssp output %q: %w", line, err)
		}
		end, err := strconv.ParseFloat(te, 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: bad te in ssp output %q: %w", line, err)
		}
		label := first
		if idx := strings.IndexByte(first, ':'); idx >= 0 {
			label = first[:idx]
		}
		results = append(results, sspResult{start: start, end: end, label: label})
	}
	return results, nil
}
