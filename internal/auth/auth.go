// Package auth implements the AuthTokenCache (spec.md §4.4): lazy bearer
// credential acquisition with single-flight refresh and 401 invalidate/retry.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MinTokenLength is the minimum accepted token length (spec.md §3, §4.4).
const MinTokenLength = 20

// Token is an opaque bearer credential plus its acquisition time.
type Token struct {
	Value      string
	AcquiredAt time.Time
}

func (t Token) valid() bool { return len(t.Value) >= MinTokenLength }

// Cache lazily acquires and refreshes a bearer token against a REST login
// endpoint, enforcing single-flight refresh (thundering-herd avoidance).
type Cache struct {
	loginURL string
	username string
	password string
	apiKey   string // when set, bypasses login entirely (spec.md §4.4)
	client   *http.Client

	mu      sync.Mutex
	current Token
	refresh chan struct{} // non-nil while a refresh is in flight
}

// New constructs a Cache. apiKey, if non-empty, makes Token() always return
// it without ever contacting loginURL.
func New(loginURL, username, password, apiKey string) *Cache {
	return &Cache{
		loginURL: loginURL,
		username: username,
		password: password,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Token returns the current cached token, acquiring or refreshing it if
// necessary. Concurrent callers during a refresh share the same in-flight
// request rather than each issuing a login.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	c.mu.Lock()
	if c.current.valid() {
		v := c.current.Value
		c.mu.Unlock()
		return v, nil
	}
	if c.refresh != nil {
		ch := c.refresh
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		c.mu.Lock()
		v := c.current.Value
		c.mu.Unlock()
		if !(Token{Value: v}).valid() {
			return "", errors.New("auth: refresh did not produce a valid token")
		}
		return v, nil
	}
	ch := make(chan struct{})
	c.refresh = ch
	c.mu.Unlock()

	tok, err := c.login(ctx)

	c.mu.Lock()
	if err == nil {
		c.current = tok
	}
	c.refresh = nil
	c.mu.Unlock()
	close(ch)

	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

func (c *Cache) login(ctx context.Context) (Token, error) {
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("auth: login returned status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Token{}, err
	}
	tok := Token{Value: lr.AccessToken, AcquiredAt: time.Now()}
	if !tok.valid() {
		return Token{}, fmt.Errorf("auth: acquired token shorter than %d characters", MinTokenLength)
	}
	return tok, nil
}

// Invalidate clears the cached token atomically. Called on a 401 reply from
// any downstream request (spec.md §4.4); the next Token() call triggers a
// fresh login.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = Token{}
	c.mu.Unlock()
}
