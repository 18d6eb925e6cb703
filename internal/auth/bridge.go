// Package auth bridges the browser-held credential cookie to the backend's
// bearer Authorization header.
//
// The gateway is the only party that maps cookie to header: the cookie is
// HttpOnly, so the token never reaches script-accessible storage. Tokens are
// opaque here; the backend validates signature and expiry.
package auth

import (
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"

	"buck3t-gateway/internal/config"
	"buck3t-gateway/internal/model"
)

const bearerPrefix = "Bearer "

// Bridge reads and writes the credential cookie.
type Bridge struct {
	cookieName string
	secure     bool
}

// NewBridge creates a Bridge from the [auth] config section.
func NewBridge(cfg *config.Config) *Bridge {
	return &Bridge{
		cookieName: cfg.Auth.CookieName,
		secure:     cfg.Auth.CookieSecure,
	}
}

// CookieName returns the name of the credential cookie.
func (b *Bridge) CookieName() string {
	return b.cookieName
}

// Extract returns the credential carried by r, if any. A missing, empty or
// unusable cookie degrades to "no credential"; it is never an error.
func (b *Bridge) Extract(r *http.Request) (*model.Credential, bool) {
	c, err := r.Cookie(b.cookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	if !httpguts.ValidHeaderFieldValue(bearerPrefix + c.Value) {
		return nil, false
	}
	return &model.Credential{Token: c.Value}, true
}

// Attach sets the Authorization header on h for cred. A nil cred removes it.
func Attach(h http.Header, cred *model.Credential) {
	if cred == nil || cred.Token == "" {
		h.Del("Authorization")
		return
	}
	h.Set("Authorization", AuthorizationValue(cred))
}

// AuthorizationValue formats cred as a bearer Authorization value.
func AuthorizationValue(cred *model.Credential) string {
	return bearerPrefix + cred.Token
}

// SessionCookie returns the cookie that stores cred in the browser.
func (b *Bridge) SessionCookie(cred *model.Credential, now time.Time) *http.Cookie {
	maxAge := int(cred.Expires.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     b.cookieName,
		Value:    cred.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie returns a cookie that deletes the credential in the browser.
func (b *Bridge) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     b.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
