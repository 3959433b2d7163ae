package orion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// newTokenServer issues tokens "token-1", "token-2", ... and counts requests.
func newTokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds["username"] != "alice" || creds["password"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte("token-" + string(rune('0'+n)) + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTokenClient(t *testing.T, tokenURL string, clock *fakeClock) *Client {
	t.Helper()
	c, err := New(Config{
		HostURL:    "broker.example",
		AuthMethod: AuthFIWAREToken,
		Username:   "alice",
		Password:   "secret",
		TokenURL:   tokenURL,
	})
	require.NoError(t, err)
	c.tokens.now = clock.Now
	return c
}

func TestToken_ReusedUntilExpiry(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	clock := &fakeClock{now: time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTokenClient(t, srv.URL, clock)
	ctx := context.Background()

	tok, err := c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	clock.Advance(TokenLifetime - 2*time.Second)
	tok, err = c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// expiry is one second before the nominal lifetime
	clock.Advance(time.Second)
	tok, err = c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestToken_RefreshedOnceAfterExpiry(t *testing.T) {
	var hits int32
	srv := newTokenServer(t, &hits)
	clock := &fakeClock{now: time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTokenClient(t, srv.URL, clock)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(2 * TokenLifetime)

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	for _, tok := range tokens {
		assert.Equal(t, "token-2", tok)
	}
}

func TestToken_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Now()}
	c := newTokenClient(t, srv.URL, clock)

	_, err := c.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRequest)
	assert.Contains(t, err.Error(), "service unavailable")

	_, isOrion := AsError(err)
	assert.False(t, isOrion, "token failures are not broker error values")
}

func TestToken_SentAsHeader(t *testing.T) {
	var hits int32
	tokenSrv := newTokenServer(t, &hits)

	var seen []string
	var mu sync.Mutex
	c, _ := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("X-Auth-Token"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{"orion":{"version":"0.28.0"}}`)
	}), func(cfg *Config) {
		cfg.AuthMethod = AuthFIWAREToken
		cfg.Username = "alice"
		cfg.Password = "secret"
		cfg.TokenURL = tokenSrv.URL
	})

	for i := 0; i < 3; i++ {
		v, err := c.Version(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "0.28.0", v.Orion.Version)
	}

	assert.Equal(t, []string{"token-1", "token-1", "token-1"}, seen)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	c.InvalidateToken()
	_, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", seen[len(seen)-1])
}
