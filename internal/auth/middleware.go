package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

const (
	identityKey = "auth_identity"
	sourceKey   = "auth_source"
)

// Request is the read-only view of an inbound request the resolver needs.
type Request interface {
	Method() string
	Header(name string) string
	Cookie(name string) string
}

type fiberRequest struct {
	c *fiber.Ctx
}

// FiberRequest adapts a fiber context.
func FiberRequest(c *fiber.Ctx) Request {
	return fiberRequest{c: c}
}

func (r fiberRequest) Method() string            { return r.c.Method() }
func (r fiberRequest) Header(name string) string { return r.c.Get(name) }
func (r fiberRequest) Cookie(name string) string { return r.c.Cookies(name) }

type httpRequest struct {
	r *http.Request
}

// HTTPRequest adapts a net/http request.
func HTTPRequest(r *http.Request) Request {
	return httpRequest{r: r}
}

func (r httpRequest) Method() string            { return r.r.Method }
func (r httpRequest) Header(name string) string { return r.r.Header.Get(name) }

func (r httpRequest) Cookie(name string) string {
	c, err := r.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetIdentity stores the resolved caller on the fiber context.
func SetIdentity(c *fiber.Ctx, identity *domain.Identity, source string) {
	c.Locals(identityKey, identity)
	c.Locals(sourceKey, source)
}

// IdentityFromContext retrieves the authenticated caller.
func IdentityFromContext(c *fiber.Ctx) (*domain.Identity, bool) {
	val := c.Locals(identityKey)
	if val == nil {
		return nil, false
	}
	identity, ok := val.(*domain.Identity)
	return identity, ok && identity != nil
}

// SourceFromContext returns the name of the source that produced the identity.
func SourceFromContext(c *fiber.Ctx) string {
	source, _ := c.Locals(sourceKey).(string)
	return source
}
