package dispatch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/admission"
	"github.com/boolpae/vrstt-dispatch/internal/auth"
	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/fetch"
	"github.com/boolpae/vrstt-dispatch/internal/jobrecord"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startEchoRuntime runs a broker.Runtime whose "vr_stt" queue handler replies
// with the status statusForAttempt returns for the 1-based attempt count, so
// tests can drive the dispatcher's 401-retry and success paths
// deterministically.
func startEchoRuntime(t *testing.T, addr string, statusForAttempt func(attempt int) broker.Status) *broker.Runtime {
	t.Helper()
	rt := broker.NewRuntime(addr, testLogger())
	attempt := 0
	rt.RegisterHandler("vr_stt", 4, func(ctx context.Context, payload []byte) ([]byte, error) {
		attempt++
		status := statusForAttempt(attempt)
		return broker.FormatReply(status, "test-server", -1, "ok"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	t.Cleanup(cancel)
	time.Sleep(50 * time.Millisecond)
	return rt
}

func newDispatcherForTest(t *testing.T, addr string, opts Options) *Dispatcher {
	t.Helper()
	f := fetch.New()
	authCache := auth.New("", "", "", "test-api-key")
	client := broker.NewClient(addr, testLogger())
	t.Cleanup(func() { client.Close() })
	adm := admission.New(4, 0)
	return New(nil, nil, adm, f, authCache, client, opts, testLogger())
}

func TestAdmitInsertsIntoInFlightIndexAndRollsBackOnDuplicate(t *testing.T) {
	d := newDispatcherForTest(t, freeAddr(t), Options{})
	r := &jobrecord.Record{URI: "file:///tmp/a.wav"}

	tok, err := d.admit(context.Background(), r)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.InFlight().Len() != 1 {
		t.Fatalf("InFlight().Len() = %d, want 1", d.InFlight().Len())
	}

	dup := &jobrecord.Record{URI: "file:///tmp/a.wav"}
	if _, err := d.admit(context.Background(), dup); err == nil {
		t.Fatalf("admit on duplicate URI succeeded, want error")
	}
	if d.admission.InFlight() != 1 {
		t.Fatalf("admission.InFlight() = %d after rollback, want 1 (only the first admission holds a token)", d.admission.InFlight())
	}

	tok.Release()
	d.InFlight().Remove(r.URI, jobrecord.StateCompleted)
	if d.InFlight().Len() != 0 {
		t.Fatalf("InFlight().Len() after Remove = %d, want 0", d.InFlight().Len())
	}
}

func TestSubmitSucceedsOnFirstAttempt(t *testing.T) {
	addr := freeAddr(t)
	startEchoRuntime(t, addr, func(attempt int) broker.Status { return broker.StatusSuccess })

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(src, []byte("pcmdata"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	d := newDispatcherForTest(t, addr, Options{OutputRoot: filepath.Join(dir, "out")})
	r := &jobrecord.Record{URI: "file://" + src}

	if !d.submit(context.Background(), r) {
		t.Fatalf("submit() = false, want true")
	}
	if r.AuthRetried {
		t.Fatalf("AuthRetried = true on a first-attempt success")
	}
}

func TestSubmitRetriesOnceOnUnauthorizedThenSucceeds(t *testing.T) {
	addr := freeAddr(t)
	startEchoRuntime(t, addr, func(attempt int) broker.Status {
		if attempt == 1 {
			return broker.StatusUnauthorized
		}
		return broker.StatusSuccess
	})

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(src, []byte("pcmdata"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	d := newDispatcherForTest(t, addr, Options{OutputRoot: filepath.Join(dir, "out")})
	r := &jobrecord.Record{URI: "file://" + src}

	if !d.submit(context.Background(), r) {
		t.Fatalf("submit() = false, want true after the retried attempt succeeds")
	}
	if !r.AuthRetried {
		t.Fatalf("AuthRetried = false, want true after an E10401 reply triggered the retry")
	}
}

func TestSubmitGivesUpAfterOneRetry(t *testing.T) {
	addr := freeAddr(t)
	startEchoRuntime(t, addr, func(attempt int) broker.Status { return broker.StatusUnauthorized })

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(src, []byte("pcmdata"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	d := newDispatcherForTest(t, addr, Options{OutputRoot: filepath.Join(dir, "out")})
	r := &jobrecord.Record{URI: "file://" + src}

	if d.submit(context.Background(), r) {
		t.Fatalf("submit() = true, want false when every attempt is rejected")
	}
	if !r.AuthRetried {
		t.Fatalf("AuthRetried = false, want true (a retry should still have been attempted)")
	}
}

func TestFinishSuccessDeletesOnlyFileScheme(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "consumed.wav")
	if err := os.WriteFile(filePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	d := newDispatcherForTest(t, freeAddr(t), Options{DeleteOnSuccess: true})

	fileRecord := &jobrecord.Record{URI: "file://" + filePath}
	d.finishSuccess(context.Background(), fileRecord)
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Fatalf("file:// record was not deleted on success")
	}

	httpRecord := &jobrecord.Record{URI: "http://example.invalid/a.wav"}
	d.finishSuccess(context.Background(), httpRecord) // must not panic or attempt a remote delete
}

func TestResolveOutputPathHonorsDailyAndUniqueLayout(t *testing.T) {
	d := newDispatcherForTest(t, freeAddr(t), Options{
		OutputRoot:   "/out",
		DailyOutput:  true,
		UniqueOutput: true,
	})
	r := &jobrecord.Record{URI: "file:///in/a.wav"}

	first := d.resolveOutputPath(r)
	second := d.resolveOutputPath(r)
	if first == second {
		t.Fatalf("resolveOutputPath returned the same path twice: %q", first)
	}
	if filepath.Dir(first) != filepath.Dir(second) {
		t.Fatalf("daily-bucket prefix differs between calls made moments apart: %q vs %q", first, second)
	}
}

func TestResolveOutputPathPrefersExplicitDownloadPath(t *testing.T) {
	d := newDispatcherForTest(t, freeAddr(t), Options{OutputRoot: "/out"})
	r := &jobrecord.Record{
		URI:      "file:///in/a.wav",
		Metadata: map[string]string{"download_path": "/explicit/out.txt"},
	}
	if got := d.resolveOutputPath(r); got != "/explicit/out.txt" {
		t.Fatalf("resolveOutputPath = %q, want the explicit download_path", got)
	}
}

func TestRunHookPropagatesCommandFailure(t *testing.T) {
	d := newDispatcherForTest(t, freeAddr(t), Options{})
	r := &jobrecord.Record{URI: "file:///in/a.wav"}

	if err := d.runHook(context.Background(), "", r); err != nil {
		t.Fatalf("runHook with no configured hook returned %v, want nil", err)
	}
	if err := d.runHook(context.Background(), "/bin/false", r); err == nil {
		t.Fatalf("runHook with a failing command returned nil, want an error")
	}
}
