package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

const (
	DefaultCSRFCookie = "csrf_token"
	DefaultCSRFHeader = "X-CSRF-Token"

	csrfTokenBytes = 32
)

// CSRF implements the double-submit check: the header must echo the cookie.
type CSRF struct {
	CookieName string
	HeaderName string
}

// NewCSRF returns a checker, filling in default names.
func NewCSRF(cookieName, headerName string) CSRF {
	if cookieName == "" {
		cookieName = DefaultCSRFCookie
	}
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}
	return CSRF{CookieName: cookieName, HeaderName: headerName}
}

// Valid reports whether req carries matching, non-empty header and cookie values.
func (c CSRF) Valid(req Request) bool {
	header := req.Header(c.HeaderName)
	cookie := req.Cookie(c.CookieName)
	if header == "" || cookie == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) == 1
}

// IsMutating reports whether method may change state and so needs a CSRF check.
func IsMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// GenerateCSRFToken returns 32 random bytes, hex encoded.
func GenerateCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
