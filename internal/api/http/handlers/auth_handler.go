package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assistant-gate/internal/api/dto"
	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/service"
	apperrors "github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

// CookieConfig names and scopes the cookies set by the auth endpoints.
type CookieConfig struct {
	SessionCookie string
	CSRFCookie    string
	CSRFTTL       time.Duration
	Secure        bool
}

// AuthHandler exposes signup, login, CSRF issuance and logout.
type AuthHandler struct {
	auth    *service.AuthService
	cookies CookieConfig
	now     func() time.Time
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{auth: authService, cookies: cookies, now: time.Now}
}

// Signup handles POST /api/auth/signup.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}

	user, err := h.auth.Signup(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{"user": userResponse(user)},
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cookies.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Identity.ExpiresAt,
		HTTPOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": userResponse(res.User),
			"auth": dto.AuthResponse{Token: res.Token, ExpiresAt: res.Identity.ExpiresAt},
		},
	})
}

// CSRF handles GET /api/auth/csrf. The cookie stays readable by scripts so
// clients can echo it in the header.
func (h *AuthHandler) CSRF(c *fiber.Ctx) error {
	token, err := h.auth.IssueCSRFToken()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	expires := h.now().Add(h.cookies.CSRFTTL)

	c.Cookie(&fiber.Cookie{
		Name:     h.cookies.CSRFCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		Secure:   h.cookies.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return c.JSON(fiber.Map{"data": dto.CSRFResponse{Token: token, ExpiresAt: expires}})
}

// Logout handles POST /api/logout behind the gate.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.auth.Logout(c.UserContext(), identity); err != nil {
		return err
	}
	c.ClearCookie(h.cookies.SessionCookie)
	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// Me handles GET /api/me behind the gate.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	resp := dto.IdentityResponse{
		SubjectID: identity.SubjectID,
		Tier:      string(identity.Tier),
		Source:    auth.SourceFromContext(c),
	}
	if !identity.ExpiresAt.IsZero() {
		exp := identity.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return c.JSON(fiber.Map{"data": resp})
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Tier:  string(user.Tier),
	}
}
