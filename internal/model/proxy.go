// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Operation identifies one proxied backend call.
type Operation string

// Operations served by the gateway.
const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpHead   Operation = "head"
	OpPut    Operation = "put"
	OpDelete Operation = "delete"
	OpPing   Operation = "ping"
	OpSignup Operation = "signup"
	OpLogin  Operation = "login"
)

// Method returns the HTTP method used for the operation on both legs.
func (op Operation) Method() string {
	switch op {
	case OpHead:
		return http.MethodHead
	case OpPut:
		return http.MethodPut
	case OpDelete:
		return http.MethodDelete
	case OpSignup, OpLogin:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// Credential is the opaque bearer token issued by the backend login flow.
// Expires is zero when the credential was read back from a request cookie.
type Credential struct {
	Token   string
	Expires time.Time
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx       context.Context
	Op        Operation
	Path      string // backend-relative, already encoded (e.g. "objects/docs/report.pdf")
	Query     url.Values
	Header    http.Header
	Cred      *Credential
	Body      io.Reader
	BodyBytes int64 // -1 when unknown
}

// ProxyResponse represents the upstream response to be streamed back.
// Body ownership moves to whoever writes the outbound response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
