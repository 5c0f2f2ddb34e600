// Package fetch downloads rendered table images over HTTP. Each request
// builds its own Client so no connection state crosses requests.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/tablecast/internal/config"
)

const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 10 * time.Second
	DefaultMaxBytes              = 16 << 20
	maxRedirects                 = 5
)

var (
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	ErrStatus            = errors.New("unexpected HTTP status")
	ErrTooLarge          = errors.New("response body exceeds size limit")
	ErrEmptyBody         = errors.New("response body is empty")
)

// ClientConfig tunes the transport used for one request's downloads.
type ClientConfig struct {
	IgnoreTLSErrors       bool
	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	MaxBytes              int64
	ForceHTTP2            bool
	UserAgent             string
	Logger                *zap.Logger
}

// NewClientConfig derives a client configuration from the fetch section.
func NewClientConfig(cfg config.FetchConfig, logger *zap.Logger) *ClientConfig {
	c := &ClientConfig{
		IgnoreTLSErrors:       cfg.IgnoreTLSErrors,
		RequestTimeout:        cfg.Timeout,
		DialTimeout:           DefaultDialTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxBytes:              cfg.MaxBytes,
		ForceHTTP2:            true,
		Logger:                logger,
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ResponseHeaderTimeout > c.RequestTimeout {
		c.ResponseHeaderTimeout = c.RequestTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Client fetches image bytes for a single pipeline run.
type Client struct {
	http     *http.Client
	maxBytes int64
	ua       string
	logger   *zap.Logger
}

// NewHTTPTransport builds a dedicated transport. Keep-alives are off: the
// client lives for one request and is then dropped.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: DefaultKeepAliveInterval}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(cfg),
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          4,
		DisableKeepAlives:     true,
		// Decoding is handled by the compression middleware so brotli works too.
		DisableCompression: true,
		ForceAttemptHTTP2:  cfg.ForceHTTP2,
	}
	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}
	return transport
}

func configureTLS(cfg *ClientConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.IgnoreTLSErrors, //nolint:gosec // opt-in for self-hosted mirrors
	}
}

// NewClient returns a client with its own transport.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewClientConfig(config.FetchConfig{}, nil)
	}
	return &Client{
		http: &http.Client{
			Transport: NewCompressionMiddleware(NewHTTPTransport(cfg)),
			Timeout:   cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("%w: redirect to %s", ErrUnsupportedScheme, req.URL.Scheme)
				}
				return nil
			},
		},
		maxBytes: cfg.MaxBytes,
		ua:       cfg.UserAgent,
		logger:   cfg.Logger.Named("fetch"),
	}
}

// Resolve makes src absolute against base and rejects anything but http(s).
func Resolve(base, src string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", src, err)
	}
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing base %q: %w", base, err)
		}
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref.Scheme)
	}
	return ref, nil
}

// Get downloads u and returns the decoded body and its content type.
func (c *Client) Get(ctx context.Context, u *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "image/png,image/*;q=0.9,*/*;q=0.5")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("requesting %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, "", fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, u.Redacted())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", u.Redacted(), err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	if len(body) == 0 {
		return nil, "", ErrEmptyBody
	}

	c.logger.Debug("Fetched image.",
		zap.String("url", u.Redacted()),
		zap.Int("bytes", len(body)),
		zap.String("proto", resp.Proto),
		zap.Duration("took", time.Since(start)))
	return body, resp.Header.Get("Content-Type"), nil
}

// Close drops any pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
