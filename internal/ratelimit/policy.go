package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// DefaultOperation names the policy section applied to operations without their own rules.
const DefaultOperation = "default"

// Well-known operation names.
const (
	OperationLLMCall      = "llm-call"
	OperationLoginAttempt = "login-attempt"
	OperationConversation = "conversation"
	OperationSessionRead  = "session-read"
	OperationLogout       = "logout"
)

// Rule caps an operation at Max requests per fixed Window.
type Rule struct {
	Max    int
	Window time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Max, r.Window)
}

// TierRules maps a tier onto its rule.
type TierRules map[domain.Tier]Rule

// Policy is the read-only quota table loaded at startup.
type Policy struct {
	Default    TierRules
	Operations map[string]TierRules
}

// ParsePolicy reads the compact policy syntax:
//
//	default:STANDARD=60/1m,ELEVATED=240/1m;llm-call:STANDARD=5/1s;login-attempt:*=5/1h
//
// A "*" tier applies the rule to every tier.
func ParsePolicy(raw string) (Policy, error) {
	p := Policy{Default: TierRules{}, Operations: map[string]TierRules{}}
	seenDefault := false
	for _, section := range strings.Split(raw, ";") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		op, body, ok := strings.Cut(section, ":")
		op = strings.TrimSpace(op)
		if !ok || op == "" {
			return Policy{}, fmt.Errorf("policy section %q: missing operation name", section)
		}
		rules, err := parseTierRules(body)
		if err != nil {
			return Policy{}, fmt.Errorf("policy section %q: %w", op, err)
		}
		if op == DefaultOperation {
			if seenDefault {
				return Policy{}, fmt.Errorf("policy section %q: duplicate operation", op)
			}
			seenDefault = true
			p.Default = rules
			continue
		}
		if _, dup := p.Operations[op]; dup {
			return Policy{}, fmt.Errorf("policy section %q: duplicate operation", op)
		}
		p.Operations[op] = rules
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func parseTierRules(raw string) (TierRules, error) {
	out := TierRules{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tierRaw, ruleRaw, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: expected TIER=MAX/WINDOW", entry)
		}
		rule, err := ParseRule(ruleRaw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		if strings.TrimSpace(tierRaw) == "*" {
			out[domain.TierStandard] = rule
			out[domain.TierElevated] = rule
			continue
		}
		tier, err := domain.ParseTier(tierRaw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		out[tier] = rule
	}
	if len(out) == 0 {
		return nil, errors.New("no tier rules")
	}
	return out, nil
}

// ParseRule parses "MAX/WINDOW", e.g. "5/1s".
func ParseRule(raw string) (Rule, error) {
	maxRaw, windowRaw, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: expected MAX/WINDOW", raw)
	}
	maxRequests, err := strconv.Atoi(strings.TrimSpace(maxRaw))
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: invalid max: %w", raw, err)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowRaw))
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: invalid window: %w", raw, err)
	}
	return Rule{Max: maxRequests, Window: window}, nil
}

// Validate checks every rule and requires a default STANDARD rule so that any
// (operation, tier) pair resolves.
func (p Policy) Validate() error {
	if _, ok := p.Default[domain.TierStandard]; !ok {
		return errors.New("policy must define a default STANDARD rule")
	}
	check := func(op string, rules TierRules) error {
		for tier, rule := range rules {
			if rule.Max < 1 {
				return fmt.Errorf("%s/%s: max must be at least 1", op, tier)
			}
			if rule.Window < time.Millisecond {
				return fmt.Errorf("%s/%s: window must be at least 1ms", op, tier)
			}
		}
		return nil
	}
	if err := check(DefaultOperation, p.Default); err != nil {
		return err
	}
	for op, rules := range p.Operations {
		if err := check(op, rules); err != nil {
			return err
		}
	}
	return nil
}

// Rule resolves the rule for operation and tier: the operation's own tier rule,
// then its STANDARD rule, then the default table.
func (p Policy) Rule(operation string, tier domain.Tier) (Rule, bool) {
	if rules, ok := p.Operations[operation]; ok {
		if r, ok := rules[tier]; ok {
			return r, true
		}
		if r, ok := rules[domain.TierStandard]; ok {
			return r, true
		}
	}
	if r, ok := p.Default[tier]; ok {
		return r, true
	}
	r, ok := p.Default[domain.TierStandard]
	return r, ok
}

// FailurePolicy selects the limiter's behavior when the quota store is unreachable.
type FailurePolicy string

const (
	// FailClosed denies the request for a full window.
	FailClosed FailurePolicy = "closed"
	// FailOpen allows the request.
	FailOpen FailurePolicy = "open"
	// FailLocal decides with an in-process token bucket per key.
	FailLocal FailurePolicy = "local"
)

// UnmarshalText implements encoding.TextUnmarshaler for FailurePolicy.
func (f *FailurePolicy) UnmarshalText(text []byte) error {
	v := FailurePolicy(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case FailClosed, FailOpen, FailLocal:
		*f = v
		return nil
	case "":
		*f = FailClosed
		return nil
	default:
		return fmt.Errorf("invalid store failure policy %q (valid options: closed, open, local)", string(text))
	}
}
