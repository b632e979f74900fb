package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
	"github.com/twmb/murmur3"
)

// Request is one probe request. Headers override the client defaults.
type Request struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       string
	NoRedirect bool
}

// RequestFromSpec rebuilds a request recorded in vulnerability evidence.
func RequestFromSpec(s types.RequestSpec) Request {
	return Request{Method: s.Method, URL: s.URL, Headers: s.Headers, Body: s.Body, NoRedirect: true}
}

func (r Request) Spec() types.RequestSpec {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var headers map[string]string
	if len(r.Headers) > 0 {
		headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			headers[k] = v
		}
	}
	return types.RequestSpec{Method: method, URL: r.URL, Headers: headers, Body: r.Body}
}

// Response is a fully read, size-capped HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	Elapsed    time.Duration
	URL        string // final URL after redirects
	Truncated  bool
}

// HeaderValue returns the first value of the named header, ignoring case.
func (r *Response) HeaderValue(name string) string {
	if r == nil {
		return ""
	}
	return r.Header.Get(name)
}

func (r *Response) HasHeader(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// HeaderLines renders headers as sorted "Name: value" lines.
func (r *Response) HeaderLines() []string {
	if r == nil {
		return nil
	}
	lines := make([]string, 0, len(r.Header))
	for name, values := range r.Header {
		for _, v := range values {
			lines = append(lines, name+": "+v)
		}
	}
	sort.Strings(lines)
	return lines
}

// HeaderMap flattens headers for reporting.
func (r *Response) HeaderMap() map[string]string {
	if r == nil {
		return nil
	}
	out := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// Cookies parses the Set-Cookie headers.
func (r *Response) Cookies() []*http.Cookie {
	if r == nil {
		return nil
	}
	return (&http.Response{Header: r.Header}).Cookies()
}

// BodyHash is a murmur3 fingerprint of the body, used to compare pages.
func (r *Response) BodyHash() uint64 {
	if r == nil {
		return 0
	}
	return murmur3.Sum64([]byte(r.Body))
}

// Client is the shared scanner client. It is safe for concurrent use.
type Client struct {
	follow   *http.Client
	noFollow *http.Client
	limiter  *ratelimit.Limiter
	cfg      Config
	log      *logger.Logger
}

// New builds a client. A nil limiter disables pacing and a nil logger
// discards request logs.
func New(cfg Config, limiter *ratelimit.Limiter, log *logger.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultConfig().MaxRedirects
	}
	if log == nil {
		log = logger.NewNop()
	}

	rt, err := newRoundTripper(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		follow:   newHTTPClient(rt, true, cfg.MaxRedirects),
		noFollow: newHTTPClient(rt, false, 0),
		limiter:  limiter,
		cfg:      cfg,
		log:      log.WithComponent("httpclient"),
	}, nil
}

func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// Get is shorthand for a GET that follows redirects.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// Do sends req once. There are no retries: a probe that needs a second
// observation asks for it explicitly.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", req.URL, err)
	}

	if c.limiter != nil {
		if err := c.limiter.WaitForHost(ctx, u.Host); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header.Set(k, v)
	}

	hc := c.follow
	if req.NoRedirect {
		hc = c.noFollow
	}

	start := time.Now()
	resp, err := DoWithContext(ctx, hc, httpReq)
	if err != nil {
		c.log.Debugw("HTTP request failed", "http_method", method, "http_url", req.URL, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer CloseBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", method, req.URL, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Elapsed:    elapsed,
		URL:        resp.Request.URL.String(),
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		data = data[:c.cfg.MaxBodyBytes]
		out.Truncated = true
	}
	out.Body = string(data)

	c.log.LogHTTPRequest(ctx, method, req.URL, resp.StatusCode, elapsed, "bytes", len(data))
	return out, nil
}

// IsTimeout reports whether err came from a request deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
