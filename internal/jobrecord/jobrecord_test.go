package jobrecord

import "testing"

func TestProtocol(t *testing.T) {
	cases := map[string]ProtocolKind{
		"file:///in/a.wav":       ProtocolFile,
		"mount:///mnt/a.wav":     ProtocolMount,
		"http://h/1.wav":         ProtocolHTTP,
		"https://h/1.wav":        ProtocolHTTPS,
		"ftp://h/1.wav":          ProtocolFTP,
		"ftps://h/1.wav":         ProtocolFTPS,
		"sftp://h/1.wav":         ProtocolSFTP,
		"c1|FIRS|rawbytes":       ProtocolNone,
	}
	for uri, want := range cases {
		r := &Record{URI: uri}
		if got := r.Protocol(); got != want {
			t.Errorf("Protocol(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestPassthroughMetadataDropsReservedKeys(t *testing.T) {
	r := &Record{
		URI: "file:///in/a.wav",
		Metadata: map[string]string{
			"filename":      "a.wav",
			"download_path": "/tmp/a.wav",
			"call_id":       "c1",
			"rec_date":      "20260731",
			"custom_key":    "keep-me",
		},
	}
	got := r.PassthroughMetadata()
	if _, ok := got["filename"]; ok {
		t.Error("filename should be dropped")
	}
	if _, ok := got["download_path"]; ok {
		t.Error("download_path should be dropped")
	}
	if v := got["custom_key"]; v != "keep-me" {
		t.Errorf("custom_key = %q, want keep-me", v)
	}
	if v := got["call_id"]; v != "c1" {
		t.Errorf("call_id = %q, want c1", v)
	}
}

func TestIndexInvariants(t *testing.T) {
	idx := NewIndex()
	r1 := &Record{URI: "http://h/1.wav", FileSize: 7 << 20}
	if err := idx.Insert(r1); err != nil {
		t.Fatalf("Insert r1: %v", err)
	}
	if err := idx.Insert(r1); err == nil {
		t.Fatal("expected error inserting duplicate uri")
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}
	if idx.TotalBytes() != 7<<20 {
		t.Fatalf("TotalBytes() = %d, want %d", idx.TotalBytes(), 7<<20)
	}
	if !idx.Contains(r1.URI) {
		t.Fatal("expected Contains true")
	}
	idx.Remove(r1.URI, StateCompleted)
	if idx.Len() != 0 || idx.TotalBytes() != 0 {
		t.Fatalf("after Remove: Len=%d TotalBytes=%d, want 0,0", idx.Len(), idx.TotalBytes())
	}
	if r1.State != StateCompleted {
		t.Fatalf("r1.State = %q, want completed", r1.State)
	}
}
