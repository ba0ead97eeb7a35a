package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServersEndpointReturnsTelemetry(t *testing.T) {
	s := NewServer("vr", "v1", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vr/v1/servers/host-a?q=cpu")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.PerCoreCPU) == 0 {
		t.Fatalf("per_core_cpu = %v, want at least one core reading", snap.PerCoreCPU)
	}
}

func TestServersEndpointRejectsMalformedQuery(t *testing.T) {
	s := NewServer("vr", "v1", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vr/v1/servers/host-a?q=bogus")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWavesEndpointReturns405(t *testing.T) {
	s := NewServer("vr", "v1", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vr/v1/waves/123")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestUnknownResourceReturns404(t *testing.T) {
	s := NewServer("vr", "v1", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/vr/v1/nonexistent/1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownMethodReturns406(t *testing.T) {
	s := NewServer("vr", "v1", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/vr/v1/servers/host-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", resp.StatusCode)
	}
}

func TestDeltaSubtractsBaseline(t *testing.T) {
	a := Snapshot{
		PerCoreCPU:   []CPUCoreTicks{{Core: "cpu0", UserTicks: 100}, {Core: "cpu1", UserTicks: 70}},
		NetBytesSent: 5000,
	}
	b := Snapshot{
		PerCoreCPU:   []CPUCoreTicks{{Core: "cpu0", UserTicks: 40}, {Core: "cpu1", UserTicks: 10}},
		NetBytesSent: 1000,
	}
	d := a.Delta(b)
	if len(d.PerCoreCPU) != 2 || d.PerCoreCPU[0].UserTicks != 60 || d.PerCoreCPU[1].UserTicks != 60 {
		t.Fatalf("PerCoreCPU delta = %+v, want [{cpu0 60} {cpu1 60}]", d.PerCoreCPU)
	}
	if d.NetBytesSent != 4000 {
		t.Fatalf("NetBytesSent delta = %v, want 4000", d.NetBytesSent)
	}
}
