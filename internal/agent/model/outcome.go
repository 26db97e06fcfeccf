package model

import (
	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// Kind tags an Outcome.
type Kind int

const (
	KindOK Kind = iota
	// KindUnavailable means the request is well-formed but the data cannot answer it.
	KindUnavailable
	// KindFailed means the call failed after retries.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindUnavailable:
		return "unavailable"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of an agent, database or compute call.
// Value is only meaningful when Kind is KindOK.
type Outcome[T any] struct {
	Kind   Kind
	Value  T
	Reason string
	Err    error
}

func OK[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindOK, Value: v}
}

func Unavailable[T any](reason string) Outcome[T] {
	return Outcome[T]{Kind: KindUnavailable, Reason: reason}
}

func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindFailed, Err: err}
}

// OutcomeOf classifies a (value, error) pair.
func OutcomeOf[T any](v T, err error) Outcome[T] {
	if err == nil {
		return OK(v)
	}
	if reason, ok := errx.UnavailableReason(err); ok {
		return Unavailable[T](reason)
	}
	return Failed[T](err)
}

func (o Outcome[T]) IsOK() bool { return o.Kind == KindOK }

func (o Outcome[T]) IsUnavailable() bool { return o.Kind == KindUnavailable }

func (o Outcome[T]) IsFailed() bool { return o.Kind == KindFailed }
