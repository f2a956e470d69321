package handlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"go.uber.org/zap"

	"github.com/spec-kit/assistant-gate/internal/auth"
	apperrors "github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

// Headers carrying the gate's verdict to the upstream application.
const (
	HeaderGateSubject = "X-Gate-Subject"
	HeaderGateTier    = "X-Gate-Tier"
)

// ProxyHandler forwards gated requests to the upstream application.
type ProxyHandler struct {
	upstream string
	logger   *zap.Logger
}

// NewProxyHandler validates upstreamURL and returns a handler.
func NewProxyHandler(upstreamURL string, logger *zap.Logger) (*ProxyHandler, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", upstreamURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q has no host", upstreamURL)
	}
	return &ProxyHandler{upstream: strings.TrimRight(u.String(), "/"), logger: logger}, nil
}

// Forward relays the request with the resolved identity attached.
func (h *ProxyHandler) Forward(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	// Inbound copies are never trusted.
	c.Request().Header.Del(HeaderGateSubject)
	c.Request().Header.Del(HeaderGateTier)
	c.Request().Header.Set(HeaderGateSubject, identity.SubjectID)
	c.Request().Header.Set(HeaderGateTier, string(identity.Tier))

	target := h.upstream + c.OriginalURL()
	if err := proxy.Do(c, target); err != nil {
		h.logger.Warn("upstream request failed", zap.String("target", target), zap.Error(err))
		return apperrors.NewDomainError("BAD_GATEWAY", "upstream unavailable", fiber.StatusBadGateway, nil)
	}
	c.Response().Header.Del(fiber.HeaderServer)
	return nil
}
