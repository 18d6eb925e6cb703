// Package client provides the pooled upstream HTTP client for the storage backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"buck3t-gateway/internal/config"
	"buck3t-gateway/internal/metrics"
	"buck3t-gateway/internal/model"
)

// Failure reasons reported by UpstreamError.
const (
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonDNS         = "dns"
	ReasonRefused     = "connection_refused"
	ReasonUnreachable = "unreachable"
)

// UpstreamError reports that no backend response was received. It never
// carries a backend status code.
type UpstreamError struct {
	Op     model.Operation
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// BackendClient sends requests to the storage backend over a shared
// connection pool.
//
// The configured timeout bounds waiting, not transfer time: it limits the wait
// for response headers and, once the body streams, the gap between two reads.
// A slow but steady download is never cut off.
type BackendClient struct {
	httpClient  *http.Client
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
		// Responses are relayed byte-for-byte; never let the transport
		// negotiate and transparently decode gzip.
		DisableCompression: true,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are the browser's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		idleTimeout: timeout,
		logger:      logger.With("component", "backend_client"),
		metrics:     m,
	}
}

// Do executes an HTTP request against the backend and returns the raw response.
// The caller is responsible for closing the response body. Every transport
// error is returned as an *UpstreamError.
func (c *BackendClient) Do(op model.Operation, req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"op", op,
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(string(op)).Observe(duration)
	}

	if err != nil {
		uerr := &UpstreamError{Op: op, Reason: classify(req.Context(), err), Err: err}
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(string(op), uerr.Reason).Inc()
		}
		return nil, uerr
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(string(op), strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream builds a request and executes it. A nil body sends no payload;
// size is the body length or -1 when unknown.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
//
// The returned body fails with an *UpstreamError of reason timeout when the
// backend sends nothing for longer than the configured timeout.
func (c *BackendClient) DoStream(ctx context.Context, op model.Operation, url string, header http.Header, body io.Reader, size int64) (*model.ProxyResponse, error) {
	if body == nil {
		body = http.NoBody
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, op.Method(), url, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if body != http.NoBody {
		req.ContentLength = size
	}

	resp, err := c.Do(op, req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = newIdleBody(resp.Body, op, c.idleTimeout, cancel)
	return resp, nil
}

// idleBody cancels the upstream request when no bytes arrive within timeout.
type idleBody struct {
	rc       io.ReadCloser
	op       model.Operation
	timeout  time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut atomic.Bool
}

func newIdleBody(rc io.ReadCloser, op model.Operation, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{rc: rc, op: op, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.timedOut.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	if err != nil && err != io.EOF && b.timedOut.Load() {
		err = &UpstreamError{Op: b.op, Reason: ReasonTimeout, Err: err}
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.cancel()
	return b.rc.Close()
}

// classify maps a transport error to a bounded failure reason.
func classify(ctx context.Context, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonRefused
	}
	return ReasonUnreachable
}
