// Package keycodec converts browser-visible object keys into backend-safe paths.
//
// A key is split on '/' and every segment is escaped on its own: ASCII letters
// and digits pass through, every other byte becomes %XX. Slashes in the encoded
// form therefore only ever separate segments chosen by the caller.
package keycodec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidKey is returned for keys containing "." or ".." segments.
var ErrInvalidKey = errors.New("invalid object key")

const upperhex = "0123456789ABCDEF"

// Encode escapes each '/'-separated segment of a decoded key.
// Empty segments are kept, so "a//b/" encodes to "a//b/".
func Encode(key string) (string, error) {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
		}
		segments[i] = EscapeSegment(seg)
	}
	return strings.Join(segments, "/"), nil
}

// Decode reverses Encode.
func Decode(path string) (string, error) {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		s, err := url.PathUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		segments[i] = s
	}
	return strings.Join(segments, "/"), nil
}

// EscapeSegment percent-encodes every byte of seg that is not an ASCII
// letter or digit.
func EscapeSegment(seg string) string {
	n := 0
	for i := 0; i < len(seg); i++ {
		if !isAlnum(seg[i]) {
			n++
		}
	}
	if n == 0 {
		return seg
	}

	var b strings.Builder
	b.Grow(len(seg) + 2*n)
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if isAlnum(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
