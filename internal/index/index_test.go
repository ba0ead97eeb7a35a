package index

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandFilename(t *testing.T) {
	p, err := New(TypeFilename, "{call_id}_{rec_date}_{rec_time}", nil)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := p.Expand("/in", "c1_20260731_120000.wav")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}
	if recs[0].Metadata["call_id"] != "c1" {
		t.Errorf("call_id = %q, want c1", recs[0].Metadata["call_id"])
	}
	if recs[0].Metadata["rec_date"] != "20260731" {
		t.Errorf("rec_date = %q, want 20260731", recs[0].Metadata["rec_date"])
	}
}

func TestExpandListOfBareURIs(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "batch.list")
	content := "http://h/1.wav\nhttp://h/2.wav\nhttp://h/3.wav\nhttp://h/4.wav\nhttp://h/5.wav\n"
	if err := os.WriteFile(listPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(TypeList, "{call_id}", nil)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := p.Expand(dir, "batch.list")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Fatalf("len(recs) = %d, want 5", len(recs))
	}
	if recs[0].URI != "http://h/1.wav" {
		t.Errorf("recs[0].URI = %q, want http://h/1.wav", recs[0].URI)
	}
}

func TestExpandListSkipsBadLinesWithoutAbortingBatch(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "batch.list")
	content := "call_id=c1\n###not-parseable-and-not-a-uri\ncall_id=c2\n"
	if err := os.WriteFile(listPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(TypeList, "call_id={call_id}", nil)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := p.Expand(dir, "batch.list")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2 (bad line skipped, batch continues)", len(recs))
	}
}

func TestPairIndexTypeUnimplemented(t *testing.T) {
	p, err := New(TypePair, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Expand("/in", "a.wav"); err != ErrUnimplemented {
		t.Fatalf("err = %v, want ErrUnimplemented", err)
	}
}
