package model

import "strings"

// Decision is the next-step agent's verdict.
type Decision string

const (
	DecisionInformationSeeking Decision = "INF"
	DecisionEnd                Decision = "END"
)

// Valid reports whether the decision is one of INF or END.
func (d Decision) Valid() bool {
	return d == DecisionInformationSeeking || d == DecisionEnd
}

// ParseDecision normalises the raw next_step value. Unknown values are kept verbatim.
func ParseDecision(raw string) Decision {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch Decision(v) {
	case DecisionInformationSeeking, DecisionEnd:
		return Decision(v)
	}
	return Decision(strings.TrimSpace(raw))
}

// InfeasiblePlan is the plan text that marks a query as unanswerable.
const InfeasiblePlan = "The query cannot be answered with given datasets"

// ActionPlan is the planner's output.
type ActionPlan struct {
	Text         string
	Unanswerable bool
}

// Infeasible reports whether the plan short-circuits the session.
func (p ActionPlan) Infeasible() bool {
	return p.Unanswerable || strings.EqualFold(strings.TrimSpace(p.Text), InfeasiblePlan)
}

// DecisionInput feeds the next-step agent.
type DecisionInput struct {
	Query         string
	Plan          string
	Memory        string
	Understanding string
}

// SeekInput feeds the information-seeking agent.
type SeekInput struct {
	Query         string
	Plan          string
	Memory        string
	Understanding string
}

// LocalInput feeds the local sensemaking agent.
type LocalInput struct {
	Request string
	Domains []string
	Results []CallResult
}

// GlobalInput feeds the global sensemaking agent.
type GlobalInput struct {
	Query         string
	Plan          string
	Memory        string
	Understanding string
}

// PresentInput feeds the presentation agent.
type PresentInput struct {
	Query         string
	Understanding string
	Instructions  string
}

// DataRequest is what the controller hands the database manager.
type DataRequest struct {
	Question string
	Domains  []string
	History  []FunctionCallRecord
}

// SummaryWindow is one window of records handed to the summarizer.
type SummaryWindow struct {
	Type         string
	Instructions string
	WindowHours  int
	Values       any
	Previous     string
}

// SummaryCombination merges per-window summaries.
type SummaryCombination struct {
	Type         string
	Instructions string
	WindowHours  int
	Summaries    []string
}
