package model

import (
	"context"
)

type SessionRepository interface {
	// SaveResult stores the session result and replaces its function-call log
	SaveResult(ctx context.Context, result *Result) error

	// LoadResult retrieves a stored session result
	LoadResult(ctx context.Context, sessionID string) (*Result, error)

	// AppendFunctionCalls adds records to the session's function-call log
	AppendFunctionCalls(ctx context.Context, sessionID string, records ...FunctionCallRecord) error

	// LoadFunctionCalls retrieves the session's function-call log in call order
	LoadFunctionCalls(ctx context.Context, sessionID string) ([]FunctionCallRecord, error)

	// CountFunctionCalls returns the number of logged calls for the session
	CountFunctionCalls(ctx context.Context, sessionID string) (int, error)

	// DeleteSession removes everything stored for the session
	DeleteSession(ctx context.Context, sessionID string) error
}
