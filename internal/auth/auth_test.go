package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestTokenLazyAcquire(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": strings.Repeat("a", 24)})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "")
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) < MinTokenLength {
		t.Fatalf("token too short: %q", tok)
	}

	// second call should hit the cache, not login again
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
}

func TestAPIKeyBypassesLogin(t *testing.T) {
	c := New("http://unreachable.invalid", "", "", "my-api-key")
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "my-api-key" {
		t.Errorf("Token() = %q, want my-api-key", tok)
	}
}

func TestInvalidateTriggersReacquire(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": strings.Repeat("b", 24)})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "")
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Errorf("logins after invalidate = %d, want 2", got)
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": strings.Repeat("c", 24)})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", "")
	// Prime then invalidate once, as a single 401 reply would, then fire N
	// concurrent Token() calls representing N goroutines racing to refresh.
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Token(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Errorf("logins = %d, want 2 (one priming login + one single-flight refresh)", got)
	}
}
