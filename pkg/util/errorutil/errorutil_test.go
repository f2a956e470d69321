package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	require.Nil(t, ToDomainError(nil))

	conflict := NewConflict("taken")
	require.Same(t, conflict, ToDomainError(fmt.Errorf("signup: %w", conflict)))

	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"deadline":  {context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		"cancelled": {context.Canceled, StatusClientClosedRequest, "CLIENT_CLOSED_REQUEST"},
		"unknown":   {errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		"no rows":   {pgx.ErrNoRows, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			de := ToDomainError(tc.err)
			require.Equal(t, tc.status, de.HTTPStatus)
			require.Equal(t, tc.code, de.Code)
			require.ErrorIs(t, de, tc.err)
		})
	}
}

func TestNewTooManyRequests(t *testing.T) {
	de := ToDomainError(NewTooManyRequests("slow down", 1500*time.Millisecond))
	require.Equal(t, http.StatusTooManyRequests, de.HTTPStatus)
	require.Equal(t, 2, de.Details["retry_after_seconds"])
	require.Equal(t, 1, RetryAfterSeconds(0))
}
