// Package httpclient provides the shared HTTP transport used by every probe.
//
// TLS certificate verification is disabled on purpose: scanned targets are
// frequently staging hosts with self-signed or mismatched certificates, and
// the scanner reports on the application, not on its PKI. Do not reuse this
// client for anything that needs authenticated TLS.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
)

// Config configures the scanner transport
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	Proxy        map[string]string // target scheme -> proxy URL
	MaxBodyBytes int64
	MaxRedirects int
}

const (
	DefaultUserAgent    = "DhaScan/2.0 (Security Scanner)"
	DefaultMaxBodyBytes = 2 << 20
)

// DefaultConfig returns the defaults used by the scan command
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
		MaxRedirects: 5,
	}
}

// FromConfig derives the transport settings from the scan section.
func FromConfig(c config.ScanConfig) Config {
	out := DefaultConfig()
	if c.Timeout > 0 {
		out.Timeout = c.Timeout
	}
	if c.UserAgent != "" {
		out.UserAgent = c.UserAgent
	}
	if c.MaxBodyBytes > 0 {
		out.MaxBodyBytes = c.MaxBodyBytes
	}
	if len(c.Proxy) > 0 {
		out.Proxy = make(map[string]string, len(c.Proxy))
		for k, v := range c.Proxy {
			out.Proxy[k] = v
		}
	}
	return out
}

func newBaseTransport() *http.Transport {
	var dialer net.Dialer
	return &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		// #nosec G402 -- see package documentation
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

// newTransport builds a transport for one target scheme, routed through
// proxyURL when it is non-empty.
func newTransport(proxyURL string, timeout time.Duration) (*http.Transport, error) {
	t := newBaseTransport()
	if proxyURL == "" {
		return t, nil
	}

	pc, err := ParseProxyURL(proxyURL)
	if err != nil {
		return nil, err
	}
	if pc.IsSOCKS {
		d, err := CreateSOCKSDialer(pc, timeout)
		if err != nil {
			return nil, err
		}
		t.DialContext = d.DialContext
		return t, nil
	}
	t.Proxy = http.ProxyURL(pc.URL)
	return t, nil
}

// newRoundTripper returns a RoundTripper that routes http and https targets
// through their own configured proxies.
func newRoundTripper(cfg Config) (http.RoundTripper, error) {
	direct := newBaseTransport()
	if len(cfg.Proxy) == 0 {
		return direct, nil
	}

	rt := &schemeRoundTripper{byScheme: make(map[string]http.RoundTripper), fallback: direct}
	for scheme, raw := range cfg.Proxy {
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("proxy for unknown scheme %q", scheme)
		}
		t, err := newTransport(raw, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", scheme, err)
		}
		rt.byScheme[scheme] = t
	}
	return rt, nil
}

type schemeRoundTripper struct {
	byScheme map[string]http.RoundTripper
	fallback http.RoundTripper
}

func (s *schemeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t, ok := s.byScheme[req.URL.Scheme]; ok {
		return t.RoundTrip(req)
	}
	return s.fallback.RoundTrip(req)
}

func (s *schemeRoundTripper) CloseIdleConnections() {
	type idleCloser interface{ CloseIdleConnections() }
	for _, t := range s.byScheme {
		if c, ok := t.(idleCloser); ok {
			c.CloseIdleConnections()
		}
	}
	if c, ok := s.fallback.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}

func newHTTPClient(rt http.RoundTripper, followRedirects bool, maxRedirects int) *http.Client {
	c := &http.Client{Transport: rt}
	if !followRedirects {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		return c
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return c
}

// DoWithContext performs an HTTP request with context enforcement
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	return resp, nil
}

// CloseBody drains and closes a response body so the connection can be
// reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, DefaultMaxBodyBytes))

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
