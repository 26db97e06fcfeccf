package retry

import (
	"context"

	retrygo "github.com/avast/retry-go/v4"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// DefaultMaxAttempts is one call plus one retry.
const DefaultMaxAttempts = 2

// Policy parameterizes Do.
type Policy struct {
	// MaxAttempts counts the first call; values below 1 fall back to DefaultMaxAttempts.
	MaxAttempts int
	// Classify reports whether an error is worth another attempt. Defaults to errx.Retryable.
	Classify func(error) bool
	// OnRetry is called before each retry with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Classify == nil {
		return errx.Retryable(err)
	}
	return p.Classify(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts run out.
// There is no backoff between attempts; a cancelled ctx stops the loop and
// returns the last error seen, or ctx.Err() when nothing ran.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	var (
		last    error
		stopped bool
	)
	max := p.attempts()
	return retrygo.DoWithData(
		func() (T, error) {
			if cerr := ctx.Err(); cerr != nil {
				var zero T
				stopped = true
				return zero, last
			}
			v, err := fn(ctx)
			if err != nil {
				var zero T
				last = err
				return zero, err
			}
			return v, nil
		},
		retrygo.Attempts(uint(max)),
		retrygo.Delay(0),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return !stopped && p.retryable(err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			// the library also reports the final failed attempt
			if attempt := int(n) + 1; attempt < max && p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
		}),
	)
}
