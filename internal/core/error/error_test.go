package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("database manager: %w", Unavailable("no functions available"))

	assert.ErrorIs(t, err, ErrUnavailable)
	reason, ok := UnavailableReason(err)
	require.True(t, ok)
	assert.Equal(t, "no functions available", reason)
	assert.Equal(t, "database manager: not possible: no functions available", err.Error())
}

func TestWrapRedis(t *testing.T) {
	assert.NoError(t, WrapRedis(nil))

	notFound := WrapRedis(redis.Nil)
	var app *AppError
	require.ErrorAs(t, notFound, &app)
	assert.Equal(t, http.StatusNotFound, app.Status)
	assert.ErrorIs(t, notFound, ErrNotFound)

	other := WrapRedis(errors.New("connection refused"))
	require.ErrorAs(t, other, &app)
	assert.Equal(t, http.StatusBadGateway, app.Status)
	assert.NotErrorIs(t, other, ErrNotFound)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unavailable", err: Unavailable("x"), want: false},
		{name: "invalid argument", err: fmt.Errorf("%w: empty uid", ErrInvalidArgument), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: false},
		{name: "malformed", err: Malformed("missing key %q", "summary"), want: true},
		{name: "llm", err: WrapLLM(errors.New("503")), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestMalformedWraps(t *testing.T) {
	err := Malformed("missing key %q", "next_step")
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Contains(t, err.Error(), `missing key "next_step"`)
}
