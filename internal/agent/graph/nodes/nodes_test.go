package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sensemaking-core/server/internal/agent/model"
)

func TestIncrementDecisionAndCheck(t *testing.T) {
	state := &model.RunState{}
	for i := 1; i <= 3; i++ {
		assert.False(t, incrementDecisionAndCheck(state, 3))
	}
	assert.False(t, state.DecisionLimitReached)

	assert.True(t, incrementDecisionAndCheck(state, 3), "marked on the first evaluation past the budget")
	assert.True(t, state.DecisionLimitReached)
	assert.False(t, incrementDecisionAndCheck(state, 3), "only reported once")
	assert.Equal(t, 5, state.Decisions)
}

func TestIncrementDecisionDefaultsBudget(t *testing.T) {
	state := &model.RunState{}
	for range DefaultMaxDecisions {
		incrementDecisionAndCheck(state, 0)
	}
	assert.False(t, state.DecisionLimitReached)
	incrementDecisionAndCheck(state, -1)
	assert.True(t, state.DecisionLimitReached)
}

func TestForcedEnd(t *testing.T) {
	fresh := model.NewSession("s", model.Query{Text: "q", Instructions: "i"})
	looped := fresh
	for range 3 {
		looped = looped.WithRequest(model.InformationRequest{Request: "r"}).CompleteIteration()
	}

	tests := []struct {
		name         string
		session      model.Session
		limitReached bool
		want         bool
	}{
		{"fresh session asks the agent", fresh, false, false},
		{"iteration cap", looped, false, true},
		{"unavailable marker", fresh.WithUnavailableNote("q"), false, true},
		{"decision budget", fresh, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, forcedEnd(tt.session, tt.limitReached, 3) != "")
		})
	}
}

func TestDegradedAnswer(t *testing.T) {
	assert.Equal(t, "The query could not be answered.", DegradedAnswer("  "))
	assert.Equal(t, "The query could not be answered: user was home", DegradedAnswer("user was home\n"))
}
