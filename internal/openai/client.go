// Package openai is a thin typed client for the OpenAI vector store, file
// and Responses endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 180 * time.Second

	maxRetries      = 3
	initialBackoff  = 500 * time.Millisecond
	maxResponseSize = 32 << 20
)

// Config holds connection settings for Client.
type Config struct {
	// APIKey is the bearer credential (required). It is never logged.
	APIKey string

	// BaseURL defaults to https://api.openai.com/v1.
	BaseURL string

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers and every stall on
	// the connection afterwards, including while reading the body.
	ReadTimeout time.Duration

	// RateLimitRPS caps outgoing requests per second. Zero disables the limiter.
	RateLimitRPS float64

	// Proxy and NoProxy override the HTTP(S)_PROXY environment when Proxy is set.
	Proxy   string
	NoProxy string
}

// Client talks to the OpenAI HTTP API. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 proxyFunc(cfg.Proxy, cfg.NoProxy),
		DialContext:           idleTimeoutDialer(dialer, cfg.ReadTimeout),
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
	if cfg.RateLimitRPS > 0 {
		burst := int(math.Ceil(cfg.RateLimitRPS))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return c, nil
}

// idleTimeoutDialer dials with d and wraps each connection in a
// deadlineConn, so a peer that stops sending mid-body fails with a timeout.
func idleTimeoutDialer(d *net.Dialer, timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

// deadlineConn pushes the read deadline timeout into the future on every
// read and write. A pending read is therefore interrupted only after the
// connection has been silent in both directions for timeout.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	// Uploads can take longer than timeout before the first response byte.
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

func proxyFunc(proxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if proxy == "" {
		return http.ProxyFromEnvironment
	}
	pc := &httpproxy.Config{
		HTTPProxy:  proxy,
		HTTPSProxy: proxy,
		NoProxy:    noProxy,
	}
	fn := pc.ProxyFunc()
	return func(r *http.Request) (*url.URL, error) {
		return fn(r.URL)
	}
}

// request describes one API call. Body must be rewindable, so it is kept
// as bytes and re-read on every retry.
type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	beta        bool
}

func jsonRequest(op, method, path string, payload any) (request, error) {
	r := request{op: op, method: method, path: path}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return request{}, fmt.Errorf("openai: %s: marshaling request: %w", op, err)
		}
		r.body = b
		r.contentType = "application/json"
	}
	return r, nil
}

// send executes r, retrying HTTP 429 with exponential backoff.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	var lastErr error
	for attempt := range maxRetries {
		data, err := c.sendOnce(ctx, r)
		if err == nil {
			return data, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, classify(r.op, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, r request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classify(r.op, err)
		}
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: creating request: %w", r.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.beta {
		req.Header.Set("OpenAI-Beta", "assistants=v2")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(r.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classify(r.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newRemoteError(r.op, resp.StatusCode, data)
	}
	return data, nil
}

// call sends r and decodes the JSON reply into out when out is non-nil.
func (c *Client) call(ctx context.Context, r request, out any) error {
	data, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("openai: %s: decoding response: %w", r.op, err)
	}
	return nil
}

// CreateResponse posts a raw Responses API payload and returns the reply
// envelope undecoded.
func (c *Client) CreateResponse(ctx context.Context, payload any) (json.RawMessage, error) {
	r, err := jsonRequest("create response", http.MethodPost, "/responses", payload)
	if err != nil {
		return nil, err
	}
	r.beta = true
	data, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
