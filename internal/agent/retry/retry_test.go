package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

func TestDo(t *testing.T) {
	transient := errors.New("upstream reset")

	tests := []struct {
		name      string
		policy    Policy
		errs      []error
		wantCalls int
		wantErr   error
		wantValue string
	}{
		{
			name:      "first call succeeds",
			errs:      []error{nil},
			wantCalls: 1,
			wantValue: "ok",
		},
		{
			name:      "one retry after transient failure",
			errs:      []error{transient, nil},
			wantCalls: 2,
			wantValue: "ok",
		},
		{
			name:      "gives up after default attempts",
			errs:      []error{transient, transient, nil},
			wantCalls: 2,
			wantErr:   transient,
		},
		{
			name:      "unavailable is final",
			errs:      []error{errx.Unavailable("no data"), nil},
			wantCalls: 1,
			wantErr:   errx.ErrUnavailable,
		},
		{
			name:      "custom classifier",
			policy:    Policy{MaxAttempts: 3, Classify: func(error) bool { return false }},
			errs:      []error{transient, nil},
			wantCalls: 1,
			wantErr:   transient,
		},
		{
			name:      "three attempts",
			policy:    Policy{MaxAttempts: 3},
			errs:      []error{transient, transient, nil},
			wantCalls: 3,
			wantValue: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			v, err := Do(context.Background(), tt.policy, func(context.Context) (string, error) {
				e := tt.errs[calls]
				calls++
				if e != nil {
					return "partial", e
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, v)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, v)
		})
	}
}

func TestDoOnRetry(t *testing.T) {
	var seen []int
	p := Policy{MaxAttempts: 3, OnRetry: func(attempt int, _ error) { seen = append(seen, attempt) }}
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errx.Malformed("bad json")
	})
	require.ErrorIs(t, err, errx.ErrMalformedOutput)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoNeverExceedsAttempts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 6).Draw(rt, "max")
		failures := rapid.IntRange(0, 10).Draw(rt, "failures")

		calls := 0
		_, err := Do(context.Background(), Policy{MaxAttempts: max}, func(context.Context) (int, error) {
			calls++
			if calls <= failures {
				return 0, errors.New("transient")
			}
			return calls, nil
		})
		if calls > max {
			rt.Fatalf("made %d calls with max %d", calls, max)
		}
		if (failures < max) != (err == nil) {
			rt.Fatalf("failures=%d max=%d err=%v", failures, max, err)
		}
	})
}

func TestDoReturnsOnlyTheLastError(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	errs := []error{first, second}
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) (int, error) {
		e := errs[calls]
		calls++
		return 0, e
	})
	require.Error(t, err)
	assert.Equal(t, "second", err.Error())
	assert.NotErrorIs(t, err, first)
}

func TestDoCancelledKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")
	var seen []int
	p := Policy{MaxAttempts: 4, OnRetry: func(attempt int, _ error) { seen = append(seen, attempt) }}
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		cancel()
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, seen)

	_, err = Do(ctx, p, func(context.Context) (int, error) { return 1, nil })
	require.ErrorIs(t, err, context.Canceled, "nothing runs on a cancelled context")
}
