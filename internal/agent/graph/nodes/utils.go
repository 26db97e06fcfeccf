package nodes

import (
	"github.com/Sensemaking-core/server/internal/agent/model"
)

const (
	DefaultMaxIterations = 3
	DefaultMaxDecisions  = 8
)

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMax returns def when the configured value is invalid.
func normalizeMax(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// incrementDecisionAndCheck counts one next-step evaluation and marks the state once
// the count exceeds the budget. Returns true when marked now.
func incrementDecisionAndCheck(state *model.RunState, max int) bool {
	max = normalizeMax(max, DefaultMaxDecisions)
	state.Decisions++
	if !state.DecisionLimitReached && state.Decisions > max {
		state.DecisionLimitReached = true
		return true
	}
	return false
}

// forcedEnd reports why the next-step agent is skipped, or "" when it must be asked.
func forcedEnd(s model.Session, limitReached bool, maxIterations int) string {
	switch {
	case s.Iterations() >= normalizeMax(maxIterations, DefaultMaxIterations):
		return "iteration cap reached"
	case s.HasUnavailable():
		return "understanding marks data unavailable"
	case limitReached:
		return "decision budget exhausted"
	}
	return ""
}
