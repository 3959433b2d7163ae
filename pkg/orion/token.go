package orion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenLifetime is how long the token endpoint's tokens stay valid.
const TokenLifetime = time.Hour

// tokenCache holds the current auth token. A token is reused until one
// second before its nominal lifetime ends.
type tokenCache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

func (tc *tokenCache) get(fetch func() (string, error)) (string, bool, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.now()
	if tc.token != "" && now.Before(tc.expiry) {
		return tc.token, false, nil
	}

	token, err := fetch()
	if err != nil {
		return "", false, err
	}
	tc.token = token
	tc.expiry = now.Add(TokenLifetime - time.Second)
	return token, true, nil
}

func (tc *tokenCache) invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.expiry = time.Time{}
	tc.mu.Unlock()
}

// Token returns a cached auth token, requesting a new one when absent or expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	token, refreshed, err := c.tokens.get(func() (string, error) {
		return c.requestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	if refreshed {
		c.metrics.tokenRefreshed()
		c.logf("Obtained new auth token from %s", c.tokenURL)
	}
	return token, nil
}

// InvalidateToken drops the cached token so the next call fetches a new one.
func (c *Client) InvalidateToken() {
	c.tokens.invalidate()
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	creds, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(creds))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrTokenRequest, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrTokenRequest, strings.TrimSpace(string(body)))
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenRequest)
	}
	return token, nil
}
