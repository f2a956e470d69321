package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// DefaultKeyPrefix matches the counter keys used by the chat routes (rate:{user}:{op}).
const DefaultKeyPrefix = "rate"

// Result is the outcome of one CheckAndConsume call.
type Result struct {
	Allowed    bool
	Count      int64
	Rule       Rule
	RetryAfter time.Duration
	// Degraded is set when the store was unreachable and OnStoreFailure decided.
	Degraded bool
}

// Options tunes a Limiter.
type Options struct {
	KeyPrefix      string
	OnStoreFailure FailurePolicy
}

// Limiter enforces fixed-window quotas per (subject, operation).
//
// A window opens on the first hit and closes when its key expires, so a burst
// straddling two windows can admit up to twice Rule.Max in little more than
// one Rule.Window.
type Limiter struct {
	store     Store
	policy    Policy
	prefix    string
	onFailure FailurePolicy
	local     *localBuckets
	logger    *zap.Logger
}

// NewLimiter builds a limiter over store. The policy must already be validated.
func NewLimiter(store Store, policy Policy, opts Options, logger *zap.Logger) *Limiter {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.OnStoreFailure == "" {
		opts.OnStoreFailure = FailClosed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:     store,
		policy:    policy,
		prefix:    opts.KeyPrefix,
		onFailure: opts.OnStoreFailure,
		local:     newLocalBuckets(),
		logger:    logger,
	}
}

// keyEscaper keeps ':' unambiguous as the key separator.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key returns the counter key for subjectID and operation. Separators inside
// either part are percent-encoded.
func (l *Limiter) Key(subjectID, operation string) string {
	return l.prefix + ":" + keyEscaper.Replace(subjectID) + ":" + keyEscaper.Replace(operation)
}

// CheckAndConsume counts one request against the caller's window and reports
// whether it fits the rule for (operation, tier).
func (l *Limiter) CheckAndConsume(ctx context.Context, subjectID, operation string, tier domain.Tier) (Result, error) {
	rule, ok := l.policy.Rule(operation, tier)
	if !ok {
		return Result{}, fmt.Errorf("no quota rule for operation %q tier %q", operation, tier)
	}
	key := l.Key(subjectID, operation)

	window, err := l.store.IncrementAndGet(ctx, key, rule.Window)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			return Result{}, err
		}
		return l.degraded(key, operation, rule, err), nil
	}

	res := Result{Allowed: true, Count: window.Count, Rule: rule}
	// The first hit opens the window and is always admitted.
	if window.Count == 1 || window.Count <= int64(rule.Max) {
		return res, nil
	}
	res.Allowed = false
	res.RetryAfter = window.Remaining
	if res.RetryAfter <= 0 || res.RetryAfter > rule.Window {
		res.RetryAfter = rule.Window
	}
	return res, nil
}

// Reset clears the counter for subjectID and operation.
func (l *Limiter) Reset(ctx context.Context, subjectID, operation string) error {
	return l.store.Reset(ctx, l.Key(subjectID, operation))
}

func (l *Limiter) degraded(key, operation string, rule Rule, cause error) Result {
	res := Result{Rule: rule, Degraded: true}
	switch l.onFailure {
	case FailOpen:
		res.Allowed = true
	case FailLocal:
		res.Allowed, res.RetryAfter = l.local.allow(key, rule)
	default:
		res.RetryAfter = rule.Window
	}
	l.logger.Warn("quota store unavailable",
		zap.String("operation", operation),
		zap.String("policy", string(l.onFailure)),
		zap.Bool("allowed", res.Allowed),
		zap.Error(cause))
	return res
}
