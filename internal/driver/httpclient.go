package driver

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// HTTP client defaults.
const (
	DefaultRequestRate      = 10
	DefaultRequestBurst     = 5
	DefaultMaxResponseBytes = 8 << 20

	// defaultClientTimeout bounds a request when the caller's context has no
	// deadline of its own.
	defaultClientTimeout = 30 * time.Second
)

// Logger is the logging interface used by the driver layer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuthMode selects how HTTPClient authenticates a request.
type AuthMode int

const (
	// AuthNone sends the request as is (session tokens travel in the query).
	AuthNone AuthMode = iota

	// AuthDigest answers HTTP Digest challenges with the device credentials.
	AuthDigest
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// RequestRate is the sustained requests per second allowed per device.
	RequestRate float64

	// RequestBurst is the token bucket size per device.
	RequestBurst int

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64

	// InsecureSkipVerify accepts self-signed device certificates.
	InsecureSkipVerify bool
}

// Request describes one call to a device web API.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Accept      string
}

// Response is a fully read device answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the response Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Raw converts the response to the RawResponse returned by diagnostics.
func (r *Response) Raw() *RawResponse {
	return &RawResponse{StatusCode: r.StatusCode, ContentType: r.ContentType(), Body: r.Body}
}

// StatusError classifies a non-2xx status: 401 and 403 are ErrAuth, anything
// else is ErrVendorProtocol. It returns nil for 2xx.
func (r *Response) StatusError() error {
	switch {
	case r.OK():
		return nil
	case r.StatusCode == http.StatusUnauthorized, r.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuth, r.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrVendorProtocol, r.StatusCode, snippet(r.Body))
	}
}

// snippet returns a short printable prefix of a body for error messages.
func snippet(b []byte) string {
	const maxLen = 120
	s := strings.TrimSpace(string(b))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

// HTTPClient is the transport shared by the vendor drivers.
//
// Each device gets its own token bucket so a burst of provisioning calls is
// spread out instead of overrunning an embedded web server. Digest clients
// are cached per device and credential pair.
type HTTPClient struct {
	cfg  HTTPConfig
	base http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	digests  map[string]*http.Client
	plain    *http.Client

	logger Logger
}

// NewHTTPClient creates a client. Zero config fields take their defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = DefaultRequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = DefaultRequestBurst
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // devices ship self-signed certificates
		MinVersion:         tls.VersionTLS12,
	}
	transport.MaxIdleConnsPerHost = 2

	return &HTTPClient{
		cfg:      cfg,
		base:     transport,
		limiters: make(map[string]*rate.Limiter),
		digests:  make(map[string]*http.Client),
		plain:    &http.Client{Transport: transport, Timeout: defaultClientTimeout},
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for request tracing.
func (c *HTTPClient) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *HTTPClient) limiter(deviceID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[deviceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RequestRate), c.cfg.RequestBurst)
		c.limiters[deviceID] = l
	}
	return l
}

func (c *HTTPClient) clientFor(dev *device.Device, mode AuthMode) *http.Client {
	if mode != AuthDigest {
		return c.plain
	}

	key := dev.ID + "\x00" + dev.Username + "\x00" + dev.Password
	c.mu.Lock()
	defer c.mu.Unlock()

	hc, ok := c.digests[key]
	if !ok {
		hc = &http.Client{
			Transport: &digest.Transport{
				Username:  dev.Username,
				Password:  dev.Password,
				Transport: c.base,
			},
			Timeout: defaultClientTimeout,
		}
		c.digests[key] = hc
	}
	return hc
}

// Do performs req against dev and reads the whole response.
//
// Transport failures (including context expiry) are ErrConnection. A body
// larger than MaxResponseBytes is ErrVendorProtocol. Any HTTP status is
// returned as a Response; callers classify it with StatusError.
func (c *HTTPClient) Do(ctx context.Context, dev *device.Device, mode AuthMode, req Request) (*Response, error) {
	if err := c.limiter(dev.ID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for request slot: %w", ErrConnection, err)
	}

	target := dev.BaseURL() + req.Path
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(req.Path, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrVendorProtocol, err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	start := time.Now()
	resp, err := c.clientFor(dev, mode).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrConnection, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrConnection, err)
	}
	if int64(len(data)) > c.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrVendorProtocol, c.cfg.MaxResponseBytes)
	}

	c.logger.Debug("device request",
		"device_id", dev.ID,
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// SplitPath turns an absolute URL or a path with query into a device-relative
// path. Vendors often hand out picture URLs that embed their own host.
func SplitPath(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty path")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing path: %w", err)
	}
	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, nil
}
