package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/agent/retry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// Node keys of the sensemaking graph.
const (
	NodeEntryGuard         = "entry_guard"
	NodeActionPlan         = "action_plan"
	NodeNextStep           = "next_step"
	NodeInvalidState       = "invalid_state"
	NodeInformationSeeking = "information_seeking"
	NodeDatabaseQuery      = "database_query"
	NodeLocalSensemaking   = "local_sensemaking"
	NodeGlobalSensemaking  = "global_sensemaking"
	NodePresentation       = "presentation"
	NodeFinish             = "finish"
)

// Agents is what the loop needs from the LLM agents.
type Agents interface {
	Plan(ctx context.Context, query string) (model.ActionPlan, error)
	Decide(ctx context.Context, in model.DecisionInput) (model.Decision, error)
	Seek(ctx context.Context, in model.SeekInput) (model.InformationRequest, error)
	LocalSense(ctx context.Context, in model.LocalInput) (string, error)
	GlobalSense(ctx context.Context, in model.GlobalInput) (string, error)
	Present(ctx context.Context, in model.PresentInput) (string, error)
}

// DataManager answers one information request with raw function results.
type DataManager interface {
	Query(ctx context.Context, req model.DataRequest) ([]model.CallResult, error)
}

// Deps are shared by every node of one compiled graph. They hold no session state.
type Deps struct {
	Agents  Agents
	Manager DataManager
	Config  model.SensemakingConfig
}

// invoke runs one agent or manager call under the retry policy and tags the outcome.
func invoke[T any](ctx context.Context, d *Deps, s model.Session, node string, fn func(context.Context) (T, error)) model.Outcome[T] {
	v, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: d.Config.MaxAttempts,
		OnRetry: func(attempt int, err error) {
			logx.Warn().Err(err).
				Str("session_id", s.ID()).
				Str("node", node).
				Int("attempt", attempt).
				Msg("Call failed; retrying")
		},
	}, fn)
	out := model.OutcomeOf(v, err)
	if out.IsFailed() {
		logx.Error().Err(out.Err).Str("session_id", s.ID()).Str("node", node).Msg("Call failed after retries")
	}
	return out
}

func finished(s model.Session) string {
	if s.Answered() {
		return NodeFinish
	}
	return ""
}

// NewEntryGuardPreHandler binds the run state to the session.
func NewEntryGuardPreHandler() func(context.Context, model.Session, *model.RunState) (model.Session, error) {
	return func(ctx context.Context, in model.Session, s *model.RunState) (model.Session, error) {
		s.SessionID = in.ID()
		s.Decisions = 0
		s.DecisionLimitReached = false
		return in, nil
	}
}

// NewEntryGuardNode rejects sessions without a query or presentation instructions.
func NewEntryGuardNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepStart)
		if !s.Query().Complete() {
			logx.Warn().Str("session_id", s.ID()).Msg("Incomplete query or instructions")
			s = s.WithAnswer(model.IncompleteQueryAnswer)
		}
		return s, nil
	})
}

// NewEntryGuardCondition routes rejected sessions straight to FINISH.
func NewEntryGuardCondition() func(context.Context, model.Session) (string, error) {
	return func(ctx context.Context, s model.Session) (string, error) {
		if next := finished(s); next != "" {
			return next, nil
		}
		return NodeActionPlan, nil
	}
}

// NewActionPlanNode produces the plan. An infeasible plan answers the session; a failed
// plan call continues with an empty plan.
func NewActionPlanNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepActionPlan)
		out := invoke(ctx, d, s, NodeActionPlan, func(ctx context.Context) (model.ActionPlan, error) {
			return d.Agents.Plan(ctx, s.Query().Text)
		})

		switch {
		case out.IsUnavailable():
			logx.Info().Str("session_id", s.ID()).Str("reason", out.Reason).Msg("Planner declined the query")
			return s.WithAnswer(model.InfeasiblePlan), nil
		case out.IsFailed():
			return s, nil
		}

		s = s.WithPlan(out.Value.Text)
		if out.Value.Infeasible() {
			logx.Info().Str("session_id", s.ID()).Msg("Query cannot be answered with the available databases")
			s = s.WithAnswer(model.InfeasiblePlan)
		}
		return s, nil
	})
}

func NewActionPlanCondition() func(context.Context, model.Session) (string, error) {
	return func(ctx context.Context, s model.Session) (string, error) {
		if next := finished(s); next != "" {
			return next, nil
		}
		return NodeNextStep, nil
	}
}

// NewNextStepPreHandler counts the evaluation against the decision budget.
func NewNextStepPreHandler(maxDecisions int) func(context.Context, model.Session, *model.RunState) (model.Session, error) {
	return func(ctx context.Context, in model.Session, state *model.RunState) (model.Session, error) {
		if incrementDecisionAndCheck(state, maxDecisions) {
			logx.Warn().
				Str("session_id", state.SessionID).
				Int("decisions", state.Decisions).
				Msg("Decision budget exhausted; forcing presentation")
		}
		return in, nil
	}
}

// NewNextStepNode records the next-step verdict. The agent is skipped when the loop must end.
func NewNextStepNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		var limitReached bool
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.RunState) error {
			limitReached = state.DecisionLimitReached
			return nil
		}); err != nil {
			return s, fmt.Errorf("failed to access state: %w", err)
		}

		if reason := forcedEnd(s, limitReached, d.Config.MaxIterations); reason != "" {
			logx.Debug().Str("session_id", s.ID()).Str("reason", reason).Msg("Next step forced to END")
			return s.WithDecision(model.DecisionEnd).WithStep(model.StepEnd), nil
		}

		out := invoke(ctx, d, s, NodeNextStep, func(ctx context.Context) (model.Decision, error) {
			return d.Agents.Decide(ctx, model.DecisionInput{
				Query:         s.Query().Text,
				Plan:          s.Plan(),
				Memory:        s.MemoryText(),
				Understanding: s.Understanding(),
			})
		})
		decision := out.Value
		if !out.IsOK() {
			decision = ""
		}
		logx.Debug().Str("session_id", s.ID()).Str("decision", string(decision)).Msg("Next step decided")

		s = s.WithDecision(decision)
		if decision == model.DecisionEnd {
			s = s.WithStep(model.StepEnd)
		}
		return s, nil
	})
}

// NewNextStepCondition routes on the recorded decision.
func NewNextStepCondition() func(context.Context, model.Session) (string, error) {
	return func(ctx context.Context, s model.Session) (string, error) {
		switch s.Decision() {
		case model.DecisionEnd:
			return NodePresentation, nil
		case model.DecisionInformationSeeking:
			return NodeInformationSeeking, nil
		default:
			return NodeInvalidState, nil
		}
	}
}

// NewInvalidStateNode records an unusable verdict; the loop asks again.
func NewInvalidStateNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		logx.Warn().Str("session_id", s.ID()).Str("decision", string(s.Decision())).Msg("Invalid next step")
		return s.WithStep(model.StepInvalid), nil
	})
}

// NewInformationSeekingNode opens an INF pass. A NOT POSSIBLE reply adds the
// unavailable note instead.
func NewInformationSeekingNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepInformationSeeking)
		out := invoke(ctx, d, s, NodeInformationSeeking, func(ctx context.Context) (model.InformationRequest, error) {
			return d.Agents.Seek(ctx, model.SeekInput{
				Query:         s.Query().Text,
				Plan:          s.Plan(),
				Memory:        s.MemoryText(),
				Understanding: s.Understanding(),
			})
		})

		switch {
		case out.IsUnavailable():
			logx.Info().Str("session_id", s.ID()).Str("reason", out.Reason).Msg("No database can serve the query")
			return s.WithUnavailableNote(s.Query().Text), nil
		case out.IsFailed():
			return s, nil
		}

		logx.Debug().
			Str("session_id", s.ID()).
			Strs("databases", out.Value.Domains).
			Str("request", out.Value.Request).
			Msg("Information request")
		return s.WithRequest(out.Value), nil
	})
}

func NewInformationSeekingCondition() func(context.Context, model.Session) (string, error) {
	return func(ctx context.Context, s model.Session) (string, error) {
		if _, ok := s.PendingRequest(); ok {
			return NodeDatabaseQuery, nil
		}
		return NodeNextStep, nil
	}
}

// NewDatabaseQueryNode runs the open request through the database manager.
func NewDatabaseQueryNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		req, ok := s.PendingRequest()
		if !ok {
			return s, nil
		}
		out := invoke(ctx, d, s, NodeDatabaseQuery, func(ctx context.Context) ([]model.CallResult, error) {
			return d.Manager.Query(ctx, model.DataRequest{
				Question: req.Request,
				Domains:  req.Domains,
				History:  s.Calls(),
			})
		})

		switch {
		case out.IsUnavailable():
			return s.WithLocalSummary("Failed to generate results because " + out.Reason), nil
		case out.IsFailed():
			logx.Warn().Str("session_id", s.ID()).Msg("Skipping information request")
			return s.AbandonRequest(), nil
		}
		logx.Debug().Str("session_id", s.ID()).Int("results", len(out.Value)).Msg("Database query finished")
		return s.WithResults(out.Value), nil
	})
}

func NewDatabaseQueryCondition() func(context.Context, model.Session) (string, error) {
	return func(ctx context.Context, s model.Session) (string, error) {
		switch _, open := s.PendingRequest(); {
		case !open:
			return NodeNextStep, nil
		case s.PendingSummarized():
			return NodeGlobalSensemaking, nil
		default:
			return NodeLocalSensemaking, nil
		}
	}
}

// NewLocalSensemakingNode summarizes the pass's results into a memory block.
func NewLocalSensemakingNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		req, _ := s.PendingRequest()
		s = s.WithStep(model.StepLocalSensemaking)
		out := invoke(ctx, d, s, NodeLocalSensemaking, func(ctx context.Context) (string, error) {
			return d.Agents.LocalSense(ctx, model.LocalInput{
				Request: req.Request,
				Domains: req.Domains,
				Results: s.PendingResults(),
			})
		})

		summary := out.Value
		switch {
		case out.IsUnavailable():
			summary = "Failed to generate local sense of results because " + out.Reason
		case out.IsFailed():
			summary = "Failed to generate local sense of results because of LLM call failure"
		}
		return s.WithLocalSummary(summary), nil
	})
}

// NewGlobalSensemakingNode rewrites the understanding and closes the pass.
func NewGlobalSensemakingNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepGlobalSensemaking)
		out := invoke(ctx, d, s, NodeGlobalSensemaking, func(ctx context.Context) (string, error) {
			return d.Agents.GlobalSense(ctx, model.GlobalInput{
				Query:         s.Query().Text,
				Plan:          s.Plan(),
				Memory:        s.MemoryText(),
				Understanding: s.Understanding(),
			})
		})
		if out.IsOK() {
			s = s.WithUnderstanding(out.Value)
		}
		s = s.CompleteIteration()
		logx.Debug().Str("session_id", s.ID()).Int("iterations", s.Iterations()).Msg("Understanding updated")
		return s, nil
	})
}

// NewPresentationNode renders the answer. Failures degrade to the current understanding.
func NewPresentationNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepPresentation)
		out := invoke(ctx, d, s, NodePresentation, func(ctx context.Context) (string, error) {
			return d.Agents.Present(ctx, model.PresentInput{
				Query:         s.Query().Text,
				Understanding: s.Understanding(),
				Instructions:  s.Query().Instructions,
			})
		})
		if out.IsOK() {
			return s.WithAnswer(out.Value), nil
		}
		return s.WithAnswer(DegradedAnswer(s.Understanding())), nil
	})
}

// DegradedAnswer is the answer given when presentation fails.
func DegradedAnswer(understanding string) string {
	if strings.TrimSpace(understanding) == "" {
		return model.UnansweredAnswer + "."
	}
	return model.UnansweredAnswer + ": " + strings.TrimSpace(understanding)
}

// NewFinishNode closes the step history.
func NewFinishNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.Session) (model.Session, error) {
		s = s.WithStep(model.StepFinish)
		logx.Debug().
			Str("session_id", s.ID()).
			Int("iterations", s.Iterations()).
			Int("function_calls", len(s.Calls())).
			Msg("Session finished")
		return s, nil
	})
}
