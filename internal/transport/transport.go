// Package transport performs the network calls behind checks. Every call
// returns a check.Outcome: transport failures are classified and reported as
// data, never as errors or panics.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/y0f/apiprobe/internal/check"
)

const maxBodyRead = 1 << 20 // 1MB

const defaultUserAgent = "apiprobe/1.0"

// Options configures a Client.
type Options struct {
	InsecureSkipVerify bool
	FollowRedirects    bool
	BlockPrivate       bool
	RateLimitPerSec    float64 // 0 disables limiting
	RateLimitBurst     int
	UserAgent          string
	Jar                http.CookieJar
	Logger             *slog.Logger
}

// Request describes one HTTP call.
type Request struct {
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	Authorize func(*http.Request) // optional, applies credentials
}

// Client is the transport adapter used by check actions.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	opts      Options
	logger    *slog.Logger
}

// New builds a client. A Client is scoped to one run because it carries the
// session cookie jar.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
			Control: dialControl(opts.BlockPrivate),
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // explicit target.insecure_skip_verify
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Jar:       opts.Jar,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	c := &Client{
		http:      client,
		userAgent: opts.UserAgent,
		opts:      opts,
		logger:    logger,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if opts.RateLimitPerSec > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), burst)
	}
	return c
}

// Execute performs req within timeout and always returns an outcome.
func (c *Client) Execute(ctx context.Context, req Request, timeout time.Duration) (out *check.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = check.Failed(check.TransportUnexpectedException, time.Since(start), fmt.Sprintf("panic: %v", r))
		}
	}()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return failure(err, time.Since(start))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return check.Failed(check.TransportUnexpectedException, time.Since(start), fmt.Sprintf("invalid request: %v", err))
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Authorize != nil {
		req.Authorize(httpReq)
	}

	start = time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		elapsed := time.Since(start)
		c.logger.Debug("request failed", "method", method, "url", req.URL, "error", err)
		return failure(err, elapsed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	elapsed := time.Since(start)
	if err != nil {
		return failure(fmt.Errorf("read body: %w", err), elapsed)
	}

	out = check.Response(resp.StatusCode, resp.Header, data, elapsed)
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		expiry := resp.TLS.PeerCertificates[0].NotAfter
		out.CertExpiry = &expiry
	}
	c.logger.Debug("request complete", "method", method, "url", req.URL,
		"status", resp.StatusCode, "latency_ms", elapsed.Milliseconds())
	return out
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait also fails when the next token lies past the deadline.
		return context.DeadlineExceeded
	}
	return nil
}

func failure(err error, elapsed time.Duration) *check.Outcome {
	status := Classify(err)
	var msg string
	switch status {
	case check.TransportTimeout:
		msg = fmt.Sprintf("timed out after %s: %v", elapsed.Round(time.Millisecond), err)
	case check.TransportConnectionError:
		msg = fmt.Sprintf("connection failed: %v", err)
	default:
		msg = fmt.Sprintf("request failed: %v", err)
	}
	return check.Failed(status, elapsed, msg)
}

// Classify maps a transport error onto a TransportStatus.
func Classify(err error) check.TransportStatus {
	if err == nil {
		return check.TransportOK
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return check.TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return check.TransportTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return check.TransportConnectionError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return check.TransportConnectionError
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return check.TransportConnectionError
	}
	return check.TransportUnexpectedException
}
