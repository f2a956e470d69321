package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
)

func TestParsePolicy(t *testing.T) {
	p, err := ratelimit.ParsePolicy("default:STANDARD=60/1m,ELEVATED=240/1m; llm-call:STANDARD=5/1s,PRO=20/1s ;login-attempt:*=5/1h")
	require.NoError(t, err)

	require.Equal(t, ratelimit.Rule{Max: 60, Window: time.Minute}, p.Default[domain.TierStandard])
	require.Equal(t, ratelimit.Rule{Max: 20, Window: time.Second}, p.Operations["llm-call"][domain.TierElevated])
	require.Equal(t, ratelimit.Rule{Max: 5, Window: time.Hour}, p.Operations["login-attempt"][domain.TierElevated])
	require.Equal(t, ratelimit.Rule{Max: 5, Window: time.Hour}, p.Operations["login-attempt"][domain.TierStandard])
}

func TestParsePolicyErrors(t *testing.T) {
	cases := map[string]string{
		"missing default":   "llm-call:STANDARD=5/1s",
		"missing operation": ":STANDARD=5/1s",
		"bad tier":          "default:GOLD=5/1s",
		"bad max":           "default:STANDARD=x/1s",
		"zero max":          "default:STANDARD=0/1s",
		"bad window":        "default:STANDARD=5/soon",
		"tiny window":       "default:STANDARD=5/1us",
		"no rules":          "default:",
		"duplicate op":      "default:STANDARD=1/1s;a:*=1/1s;a:*=2/1s",
		"duplicate default": "default:STANDARD=1/1s;default:STANDARD=2/1s",
		"missing slash":     "default:STANDARD=5",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ratelimit.ParsePolicy(raw)
			require.Error(t, err)
		})
	}
}

func TestPolicyRuleFallback(t *testing.T) {
	p, err := ratelimit.ParsePolicy("default:STANDARD=60/1m,ELEVATED=240/1m;llm-call:STANDARD=5/1s")
	require.NoError(t, err)

	r, ok := p.Rule("llm-call", domain.TierElevated)
	require.True(t, ok)
	require.Equal(t, 5, r.Max, "operation rules take precedence over the default table")

	r, ok = p.Rule("conversation", domain.TierElevated)
	require.True(t, ok)
	require.Equal(t, 240, r.Max)

	r, ok = p.Rule("conversation", domain.Tier("UNKNOWN"))
	require.True(t, ok)
	require.Equal(t, 60, r.Max)
}

func TestFailurePolicyUnmarshalText(t *testing.T) {
	var f ratelimit.FailurePolicy
	require.NoError(t, f.UnmarshalText([]byte("LOCAL")))
	require.Equal(t, ratelimit.FailLocal, f)

	require.NoError(t, f.UnmarshalText([]byte("")))
	require.Equal(t, ratelimit.FailClosed, f)

	require.Error(t, f.UnmarshalText([]byte("sometimes")))
}
