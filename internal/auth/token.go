package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// MinSecretLength is the shortest accepted HS256 signing secret, in bytes.
const MinSecretLength = 32

var (
	// ErrMalformed reports a token that cannot be parsed or lacks required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrBadSignature reports a token not signed by the current secret.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrExpired reports a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
)

// Claims describes the JWT payload.
type Claims struct {
	Tier domain.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 identity tokens.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces the codec's time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec builds a codec for secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	c := &TokenCodec{
		secret: []byte(secret),
		now:    time.Now,
		// Expiry is checked against c.now after the signature, so the
		// library's own claim validation is off. Strict decoding rejects
		// encodings that differ only in unused trailing bits.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subjectID valid for at least ttl. Claims carry
// one-second precision, so the expiry is rounded up to the next second.
func (c *TokenCodec) Issue(subjectID string, tier domain.Tier, ttl time.Duration) (string, domain.Identity, error) {
	if subjectID == "" {
		return "", domain.Identity{}, errors.New("subject id required")
	}
	if !tier.Valid() {
		return "", domain.Identity{}, fmt.Errorf("invalid tier %q", tier)
	}
	if ttl < 0 {
		return "", domain.Identity{}, errors.New("ttl must not be negative")
	}

	now := c.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(ceilSecond(now.Add(ttl)))
	claims := &Claims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", domain.Identity{}, err
	}
	return tokenString, identityFromClaims(claims), nil
}

// Verify checks signature, required claims and expiry, in that order.
func (c *TokenCodec) Verify(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case claims.Subject == "":
		return domain.Identity{}, fmt.Errorf("%w: missing sub", ErrMalformed)
	case claims.ID == "":
		return domain.Identity{}, fmt.Errorf("%w: missing jti", ErrMalformed)
	case claims.IssuedAt == nil || claims.ExpiresAt == nil:
		return domain.Identity{}, fmt.Errorf("%w: missing iat or exp", ErrMalformed)
	}
	tier, err := domain.ParseTier(string(claims.Tier))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claims.Tier = tier

	if c.now().After(claims.ExpiresAt.Time) {
		return domain.Identity{}, ErrExpired
	}
	return identityFromClaims(claims), nil
}

func ceilSecond(t time.Time) time.Time {
	if truncated := t.Truncate(time.Second); !truncated.Equal(t) {
		return truncated.Add(time.Second)
	}
	return t
}

func identityFromClaims(claims *Claims) domain.Identity {
	return domain.Identity{
		SubjectID: claims.Subject,
		Tier:      claims.Tier,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		TokenID:   claims.ID,
	}
}
