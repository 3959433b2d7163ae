package orion

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// AuthMethod selects how requests are authenticated against the broker.
type AuthMethod string

const (
	AuthNone        AuthMethod = ""
	AuthFIWAREToken AuthMethod = "fiware-token"
)

const (
	DefaultPort    = 1026
	DefaultTimeout = 10 * time.Second

	apiVersion = "v1"
	authHeader = "X-Auth-Token"
)

// Config holds the broker connection settings.
type Config struct {
	HostURL            string
	Port               int
	TokenURL           string
	Username           string
	Password           string
	AuthMethod         AuthMethod
	Timeout            time.Duration
	CAFile             string // PEM bundle used to verify the broker's certificate
	InsecureSkipVerify bool
	CallbackBase       string // prefix for callback URLs that carry no scheme
}

// Client talks to one Orion Context Broker over the NGSI v1 REST API.
// It is safe for concurrent use.
type Client struct {
	cfg      Config
	hostURL  string
	tokenURL string
	http     *http.Client
	tokens   *tokenCache
	metrics  *Metrics
	logger   *log.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client built from Config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New validates cfg and returns a client for it.
func New(cfg Config, opts ...Option) (*Client, error) {
	switch cfg.AuthMethod {
	case AuthNone:
	case AuthFIWAREToken:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("%w for auth method %q", ErrMissingCredentials, cfg.AuthMethod)
		}
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("%w for auth method %q", ErrMissingTokenURL, cfg.AuthMethod)
		}
	default:
		return nil, fmt.Errorf("%w: %q not in [%q %q]", ErrInvalidAuthMethod, cfg.AuthMethod, AuthNone, AuthFIWAREToken)
	}
	if cfg.HostURL == "" {
		return nil, fmt.Errorf("orion: host url required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:      cfg,
		hostURL:  CleanURL(cfg.HostURL),
		tokenURL: CleanURL(cfg.TokenURL),
		tokens:   &tokenCache{now: time.Now},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		hc, err := newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}

	return c, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.CAFile != "" || cfg.InsecureSkipVerify {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}

// CleanURL adds an http scheme when missing and strips trailing slashes.
func CleanURL(u string) string {
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// HostPrefix is the scheme, host and port every broker URL starts with.
func (c *Client) HostPrefix() string {
	return fmt.Sprintf("%s:%d", c.hostURL, c.cfg.Port)
}

func (c *Client) entitiesURL(parts ...string) string {
	return makeURL(c.HostPrefix(), apiVersion+"/contextEntities", parts...)
}

func (c *Client) entityTypesURL(parts ...string) string {
	return makeURL(c.HostPrefix(), apiVersion+"/contextEntityTypes", parts...)
}

func (c *Client) operationURL(op string) string {
	return makeURL(c.HostPrefix(), apiVersion+"/"+op)
}

// makeURL joins base and path with escaped, non-empty segments.
func makeURL(base, path string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteByte('/')
	b.WriteString(strings.Trim(path, "/"))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) headers(ctx context.Context, withBody bool) (http.Header, error) {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthMethod == AuthFIWAREToken {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}
		h.Set(authHeader, token)
	}
	return h, nil
}

// do performs one round trip and normalizes failures into *Error.
func (c *Client) do(ctx context.Context, method, target string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	headers, err := c.headers(ctx, payload != nil)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(method, outcomeTransport, started)
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observe(method, outcomeTransport, started)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.observe(method, outcomeStatus, started)
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Body: respBody}
	}

	if oe, ok := orionErrorFrom(respBody); ok {
		c.metrics.observe(method, outcomeOrion, started)
		return nil, &Error{Kind: KindOrion, StatusCode: resp.StatusCode, Body: respBody, Orion: oe}
	}

	c.metrics.observe(method, outcomeOK, started)
	return respBody, nil
}

// doJSON performs do and decodes the successful body into out.
func (c *Client) doJSON(ctx context.Context, method, target string, payload, out interface{}) error {
	body, err := c.do(ctx, method, target, payload)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
