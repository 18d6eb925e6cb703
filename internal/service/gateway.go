// Package service implements the core forwarding logic between browser
// requests and the storage backend.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"buck3t-gateway/internal/auth"
	"buck3t-gateway/internal/client"
	"buck3t-gateway/internal/config"
	"buck3t-gateway/internal/headers"
	"buck3t-gateway/internal/metrics"
	"buck3t-gateway/internal/model"
)

// ErrUploadTooLarge is returned when an upload body exceeds backend.max_upload_size.
var ErrUploadTooLarge = errors.New("upload exceeds configured size limit")

// Backend-relative paths.
const (
	PathHealthz = "healthz"
	PathObjects = "objects"
	PathSignup  = "auth/signup"
	PathLogin   = "auth/login"
)

const userAgent = "buck3t-gateway/1.0"

// ObjectPath returns the backend path for an already-encoded key.
func ObjectPath(encodedKey string) string {
	return PathObjects + "/" + encodedKey
}

// GatewayService handles the forwarding logic for proxied requests.
type GatewayService struct {
	client    *client.BackendClient
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	maxUpload int64
}

// NewGatewayService creates a GatewayService. The metrics parameter is optional.
func NewGatewayService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *GatewayService {
	return &GatewayService{
		client:    c,
		cfg:       cfg,
		logger:    logger.With("component", "gateway_service"),
		metrics:   m,
		maxUpload: cfg.Backend.MaxUploadBytes(),
	}
}

// Forward sends a ProxyRequest to the backend and returns the response with
// headers already filtered for the operation. The caller is responsible for
// closing the response body.
//
// Only PUT, signup and login carry a request body. A PUT whose declared size
// exceeds the upload limit is rejected before any backend call; one that
// crosses the limit while streaming is aborted. Both return ErrUploadTooLarge.
func (s *GatewayService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body, size, err := s.outboundBody(pr)
	if err != nil {
		return nil, err
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query)
	header := s.buildRequestHeaders(pr.Op, pr.Header, pr.Cred)

	s.logger.Debug("forwarding request",
		"op", pr.Op,
		"path", pr.Path,
		"authorized", pr.Cred != nil,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Op, upstreamURL, header, body, size)

	if lb, ok := body.(*limitedBody); ok {
		if s.metrics != nil {
			s.metrics.UploadBytes.Add(float64(lb.n.Load()))
		}
		if lb.exceeded.Load() {
			if resp != nil {
				_ = resp.Body.Close()
			}
			s.rejectUpload()
			return nil, ErrUploadTooLarge
		}
	}
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	resp.Header = headers.FilterResponse(pr.Op, resp.Header)
	return resp, nil
}

// Ping proxies the backend health endpoint.
func (s *GatewayService) Ping(ctx context.Context) (*model.ProxyResponse, error) {
	return s.Forward(&model.ProxyRequest{
		Ctx:  ctx,
		Op:   model.OpPing,
		Path: PathHealthz,
	})
}

// SignupRequest is the signup payload accepted from the browser.
type SignupRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginRequest is the login payload accepted from the browser.
type LoginRequest struct {
	Username string  `json:"username" validate:"required,max=256"`
	Password string  `json:"password" validate:"required,max=1024"`
	Scope    *string `json:"scope,omitempty"`
	TTLSecs  *uint64 `json:"ttl_secs,omitempty"`
}

// tokenGrant is the backend's successful login response.
type tokenGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// LoginResult is a decoded successful login.
type LoginResult struct {
	Credential *model.Credential
	TokenType  string
	ExpiresIn  int64
}

// Signup forwards a signup request. The backend response is returned as-is.
func (s *GatewayService) Signup(ctx context.Context, req SignupRequest) (*model.ProxyResponse, error) {
	return s.forwardJSON(ctx, model.OpSignup, PathSignup, req)
}

// Login forwards a login request. On a 2xx backend status the token grant is
// decoded into a LoginResult; any other status is returned as a response for
// the caller to pass through.
func (s *GatewayService) Login(ctx context.Context, req LoginRequest, now time.Time) (*LoginResult, *model.ProxyResponse, error) {
	resp, err := s.forwardJSON(ctx, model.OpLogin, PathLogin, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	var grant tokenGrant
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&grant); err != nil {
		return nil, nil, fmt.Errorf("decode login response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, nil, errors.New("decode login response: empty access_token")
	}

	return &LoginResult{
		Credential: &model.Credential{
			Token:   grant.AccessToken,
			Expires: now.Add(time.Duration(grant.ExpiresIn) * time.Second),
		},
		TokenType: grant.TokenType,
		ExpiresIn: grant.ExpiresIn,
	}, nil, nil
}

func (s *GatewayService) forwardJSON(ctx context.Context, op model.Operation, path string, payload any) (*model.ProxyResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return s.Forward(&model.ProxyRequest{
		Ctx:       ctx,
		Op:        op,
		Path:      path,
		Header:    http.Header{"Content-Type": {"application/json"}},
		Body:      bytes.NewReader(data),
		BodyBytes: int64(len(data)),
	})
}

// outboundBody selects and wraps the body to send for pr.
func (s *GatewayService) outboundBody(pr *model.ProxyRequest) (io.Reader, int64, error) {
	switch pr.Op {
	case model.OpPut:
		return s.uploadBody(pr)
	case model.OpSignup, model.OpLogin:
		return pr.Body, pr.BodyBytes, nil
	default:
		return nil, 0, nil
	}
}

// uploadBody enforces the upload limit on a PUT body.
func (s *GatewayService) uploadBody(pr *model.ProxyRequest) (io.Reader, int64, error) {
	if s.maxUpload > 0 && pr.BodyBytes > s.maxUpload {
		s.rejectUpload()
		return nil, 0, ErrUploadTooLarge
	}
	if pr.Body == nil || pr.BodyBytes == 0 {
		return nil, 0, nil
	}
	if s.maxUpload <= 0 {
		return pr.Body, pr.BodyBytes, nil
	}
	return &limitedBody{r: pr.Body, limit: s.maxUpload}, pr.BodyBytes, nil
}

func (s *GatewayService) rejectUpload() {
	if s.metrics != nil {
		s.metrics.RejectedUploads.Inc()
	}
}

// buildUpstreamURL joins path onto the backend base and appends query.
// path is already escaped and is not re-encoded here; query is re-encoded
// with sorted keys and form escaping.
func (s *GatewayService) buildUpstreamURL(path string, query url.Values) string {
	u := s.cfg.Backend.Join(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// buildRequestHeaders applies the operation's allow-list and attaches the
// bridged credential.
func (s *GatewayService) buildRequestHeaders(op model.Operation, src http.Header, cred *model.Credential) http.Header {
	dst := headers.FilterRequest(op, src)
	auth.Attach(dst, cred)
	dst.Set("User-Agent", userAgent)
	return dst
}

// limitedBody fails the upload once more than limit bytes have been read.
// The transport reads it from its own goroutine, hence the atomics.
type limitedBody struct {
	r        io.Reader
	limit    int64
	n        atomic.Int64
	exceeded atomic.Bool
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.exceeded.Load() {
		return 0, ErrUploadTooLarge
	}
	// Allow one byte past the limit so overflow is detectable.
	if room := l.limit + 1 - l.n.Load(); int64(len(p)) > room {
		p = p[:room]
	}
	n, err := l.r.Read(p)
	if l.n.Add(int64(n)) > l.limit {
		l.exceeded.Store(true)
		return 0, ErrUploadTooLarge
	}
	return n, err
}
