package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the service level that selects a caller's quota policy.
type Tier string

const (
	TierStandard Tier = "STANDARD"
	TierElevated Tier = "ELEVATED"
)

// ParseTier normalizes a stored or claimed tier. The product's billing tiers
// FREE and PRO map onto STANDARD and ELEVATED.
func ParseTier(raw string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(TierStandard), "FREE":
		return TierStandard, nil
	case string(TierElevated), "PRO":
		return TierElevated, nil
	default:
		return "", fmt.Errorf("unknown tier %q", raw)
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierElevated
}

// Identity is the authenticated caller resolved for a single request.
// TokenID is empty when the identity came from a framework session.
type Identity struct {
	SubjectID string
	Tier      Tier
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
}

// SessionPrincipal is the record returned by the framework session store.
type SessionPrincipal struct {
	SubjectID string
	Tier      Tier
	ExpiresAt time.Time
}
