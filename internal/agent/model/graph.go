package model

import "time"

// RunState stores per-invocation bookkeeping for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Session data itself never lives here; it flows between nodes as a Session value.
type RunState struct {
	SessionID            string
	Decisions            int  // next-step evaluations so far, incremented in the pre-handler
	DecisionLimitReached bool // set once Decisions exceeds the configured budget
}

// Result is the session entry point's return value.
type Result struct {
	SessionID           string               `json:"session_id"`
	Query               string               `json:"query"`
	Instructions        string               `json:"instructions"`
	Answer              string               `json:"answer"`
	StepHistory         []string             `json:"step_history"`
	Memory              string               `json:"memory"`
	Understanding       string               `json:"understanding"`
	ActionPlan          string               `json:"action_plan,omitempty"`
	FunctionCalls       []FunctionCallRecord `json:"function_calls"`
	InformationRequests []string             `json:"information_requests"`
	Iterations          int                  `json:"iterations"`
	Usage               Usage                `json:"usage"`
	UsageByModel        []Usage              `json:"usage_by_model,omitempty"`
	StartedAt           time.Time            `json:"started_at"`
	FinishedAt          time.Time            `json:"finished_at"`
}
