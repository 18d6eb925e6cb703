// Package headers holds the per-operation header allow-lists used on both
// legs of a proxied call.
package headers

import (
	"net/http"

	"buck3t-gateway/internal/model"
)

// Direction is the leg a header travels on.
type Direction int

const (
	// Request is browser to backend.
	Request Direction = iota
	// Response is backend to browser.
	Response
)

func (d Direction) String() string {
	if d == Request {
		return "request"
	}
	return "response"
}

type tableKey struct {
	op  model.Operation
	dir Direction
}

// allowLists is the whole forwarding policy. A missing entry forwards nothing.
var allowLists = map[tableKey][]string{
	{model.OpGet, Request}:    {"If-None-Match", "Range"},
	{model.OpHead, Request}:   {"If-None-Match"},
	{model.OpPut, Request}:    {"If-Match", "If-None-Match", "Content-Type"},
	{model.OpSignup, Request}: {"Content-Type"},
	{model.OpLogin, Request}:  {"Content-Type"},

	{model.OpGet, Response}:    {"Content-Type", "Content-Length", "Accept-Ranges", "Content-Disposition", "Content-Range", "ETag"},
	{model.OpHead, Response}:   {"Content-Type", "Content-Length", "Accept-Ranges", "Content-Disposition", "ETag"},
	{model.OpPut, Response}:    {"ETag", "Content-Type"},
	{model.OpPing, Response}:   {"Content-Type"},
	{model.OpSignup, Response}: {"Content-Type"},
	{model.OpLogin, Response}:  {"Content-Type"},
}

// stripped lists headers that are never copied verbatim on a given leg.
// Content-Length is recomputed by the transport for outbound requests and
// credentials only ever travel through the auth bridge.
var stripped = map[Direction][]string{
	Request:  {"Content-Length", "Authorization", "Cookie", "Host", "Transfer-Encoding", "Connection"},
	Response: {"Set-Cookie", "Authorization", "Transfer-Encoding", "Connection"},
}

// Allowed returns the canonical header names forwarded for op in dir.
func Allowed(op model.Operation, dir Direction) []string {
	names := allowLists[tableKey{op, dir}]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Stripped returns the header names that are always dropped in dir.
func Stripped(dir Direction) []string {
	names := stripped[dir]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// FilterRequest returns the subset of src that op forwards to the backend.
func FilterRequest(op model.Operation, src http.Header) http.Header {
	return filter(op, Request, src)
}

// FilterResponse returns the subset of src that op forwards to the browser.
func FilterResponse(op model.Operation, src http.Header) http.Header {
	return filter(op, Response, src)
}

func filter(op model.Operation, dir Direction, src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range allowLists[tableKey{op, dir}] {
		// Values canonicalizes the lookup, so src keys may use any case
		// as long as they were stored through http.Header methods.
		vals := src.Values(key)
		if len(vals) == 0 {
			vals = lookupFold(src, key)
		}
		if len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
	return dst
}

// lookupFold finds values stored under a non-canonical key, e.g. a map
// literal with a lower-case name.
func lookupFold(src http.Header, key string) []string {
	canon := http.CanonicalHeaderKey(key)
	for k, vals := range src {
		if http.CanonicalHeaderKey(k) == canon {
			return vals
		}
	}
	return nil
}
