package jobs

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/engine"
	"github.com/boolpae/vrstt-dispatch/internal/wave"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func TestFormatAndParseCellsRoundTrip(t *testing.T) {
	cells := []engine.Cell{
		{Start: 0, End: 0.5, Token: "hello", Likelihood: -1.2},
		{Start: 0.5, End: 1.0, Token: "world", Likelihood: -0.9},
	}
	text := FormatCells(cells)
	got, err := ParseCells(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Token != "hello" || got[1].Token != "world" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestParseCellsRejectsMalformedLines(t *testing.T) {
	if _, err := ParseCells("0\t1\tonly-three-fields\n"); err == nil {
		t.Fatal("expected error for malformed cell line")
	}
}

func TestBatchSTTStandardWaveRunsEngine(t *testing.T) {
	data := buildStandardWave(t, 16000)
	pool, err := engine.NewInstancePool(1)
	if err != nil {
		t.Fatal(err)
	}
	h := &BatchSTT{Pool: pool, MiniBatch: 128, FeatureDim: 1, ServerName: "worker-1", Log: testLogger()}

	reply, err := h.Handle(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", parsed.Status)
	}
}

func TestBatchSTTWithoutDecoderFailsNonStandardInput(t *testing.T) {
	data := []byte("RIFF\x00\x00\x00\x00not actually wave content")
	pool, err := engine.NewInstancePool(1)
	if err != nil {
		t.Fatal(err)
	}
	h := &BatchSTT{Pool: pool, ServerName: "worker-1", Log: testLogger()}

	reply, err := h.Handle(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusDecodingFailed {
		t.Fatalf("status = %s, want decoding-failed", parsed.Status)
	}
}

func TestUnsegmentOnlyFlushesOnThreshold(t *testing.T) {
	cells := []engine.Cell{
		{Start: 0, End: 1, Token: "aaaaaaaaaa", Likelihood: 0},
		{Start: 1, End: 2, Token: "bbbbbbbbbb", Likelihood: 0},
		{Start: 2, End: 3, Token: "cccccccccc", Likelihood: 0},
	}
	h := &UnsegmentOnly{SyntaxThreshold: 15, ServerName: "worker-1", Log: testLogger()}
	reply, err := h.Handle(context.Background(), []byte(FormatCells(cells)))
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", parsed.Status)
	}
	if !strings.Contains(parsed.Payload, "\n") {
		t.Fatalf("expected flushed sentence boundary in payload %q", parsed.Payload)
	}
}

func TestUnsegmentWithTimeWithoutPostprocessorFails(t *testing.T) {
	h := &UnsegmentWithTime{ServerName: "worker-1", Log: testLogger()}
	reply, err := h.Handle(context.Background(), []byte("0\t1\thi\t0\n"))
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusDecodingFailed {
		t.Fatalf("status = %s, want decoding-failed", parsed.Status)
	}
}

func TestParseSSPOutputLabelsByFirstClass(t *testing.T) {
	out := "ts=0.0 te=1.0 first=s1:0.9 second=s0:0.1 str=hi\nts=1.0 te=2.0 first=s0:0.8 second=s1:0.2 str=noise\n"
	results, err := parseSSPOutput(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	var kept int
	for _, r := range results {
		if r.label != "s0" {
			kept++
		}
	}
	if kept != 1 {
		t.Fatalf("expected 1 non-s0 result, got %d", kept)
	}
}

func TestSSPWithoutClassifierConfiguredFails(t *testing.T) {
	h := &SSP{ServerName: "worker-1", Log: testLogger()}
	reply, err := h.Handle(context.Background(), []byte("0\t1\thi\n"))
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusDecodingFailed {
		t.Fatalf("status = %s, want decoding-failed", parsed.Status)
	}
}

func TestBatchSTTRejectsStereoMPEG(t *testing.T) {
	data := []byte{0xFF, 0xFB, 0x90, 0x00, 0, 0, 0, 0}
	if wave.Classify(data) != wave.KindMPEG2Ch {
		t.Fatalf("test fixture is not classified as mpeg_2ch: %s", wave.Classify(data))
	}
	pool, err := engine.NewInstancePool(1)
	if err != nil {
		t.Fatal(err)
	}
	h := &BatchSTT{Pool: pool, Separator: "/bin/true", ServerName: "worker-1", Log: testLogger()}

	reply, err := h.Handle(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := broker.ParseReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Status != broker.StatusDecodingFailed {
		t.Fatalf("status = %s, want decoding-failed (stereo MPEG must be rejected, not decoded)", parsed.Status)
	}
}

func TestClampConcurrencyBoundsToGPUDevices(t *testing.T) {
	if got := ClampConcurrency(8, 2); got != 2 {
		t.Fatalf("ClampConcurrency(8, 2) = %d, want 2", got)
	}
	if got := ClampConcurrency(1, 2); got != 1 {
		t.Fatalf("ClampConcurrency(1, 2) = %d, want 1", got)
	}
	if got := ClampConcurrency(8, 0); got != 8 {
		t.Fatalf("ClampConcurrency(8, 0) = %d, want 8 (no GPU ceiling)", got)
	}
	if got := ClampConcurrency(0, 0); got != 1 {
		t.Fatalf("ClampConcurrency(0, 0) = %d, want 1", got)
	}
}

func buildStandardWave(t *testing.T, numSamples int) []byte {
	t.Helper()
	dataSize := numSamples * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WAVE")
	copy(buf[12:15], "fmt")
	buf[22] = 1 // channels = 1 (little-endian uint16)
	buf[24] = byte(8000)
	buf[25] = byte(8000 >> 8)
	buf[34] = 16 // bits per sample
	if wave.Classify(buf) != wave.KindStandardWave {
		t.Fatalf("test fixture is not classified as standard_wave: %s", wave.Classify(buf))
	}
	return buf
}
