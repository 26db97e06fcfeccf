// Package agents holds the stateless LLM agents of the sensemaking loop. Each agent
// renders one prompt pair, makes one completion call and decodes one JSON object.
package agents

import (
	"context"
	"strings"

	"github.com/Sensemaking-core/server/internal/agent/llm"
	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/agent/prompts"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// MaxDomainsPerRequest bounds the databases the information-seeking agent may name.
const MaxDomainsPerRequest = 3

// Catalog renders the available databases for planning prompts.
type Catalog interface {
	Catalog(names ...string) string
}

// Agents groups the loop agents over the two configured completers.
type Agents struct {
	reasoning llm.Completer
	data      llm.Completer
	catalog   Catalog
}

// New wires the agents. reasoning serves planning, next step, information seeking,
// global sensemaking and presentation; data serves local sensemaking.
func New(reasoning, data llm.Completer, catalog Catalog) *Agents {
	return &Agents{reasoning: reasoning, data: data, catalog: catalog}
}

// ask renders a prompt, runs one completion and decodes the reply into T.
func ask[T any](ctx context.Context, c llm.Completer, name prompts.Name, vars map[string]any) (T, error) {
	var zero T
	msgs, err := prompts.Render(ctx, name, vars)
	if err != nil {
		return zero, err
	}
	out, err := c.Complete(ctx, msgs)
	if err != nil {
		return zero, err
	}
	v, err := llm.Decode[T](out.Content)
	if err != nil {
		logx.Debug().Err(err).Str("agent", string(name)).Str("model", c.ModelName()).Msg("Agent reply rejected")
		return zero, err
	}
	return v, nil
}

type planReply struct {
	ActionPlan string `json:"action_plan"`
	Answerable *bool  `json:"answerable"`
}

// Plan produces the session's action plan.
func (a *Agents) Plan(ctx context.Context, query string) (model.ActionPlan, error) {
	reply, err := ask[planReply](ctx, a.reasoning, prompts.ActionPlan, map[string]any{
		"Databases":  a.catalog.Catalog(),
		"Infeasible": model.InfeasiblePlan,
		"Query":      query,
	})
	if err != nil {
		return model.ActionPlan{}, err
	}
	plan := model.ActionPlan{
		Text:         strings.TrimSpace(reply.ActionPlan),
		Unanswerable: reply.Answerable != nil && !*reply.Answerable,
	}
	if !plan.Unanswerable {
		if err := llm.RequireField("action_plan", plan.Text); err != nil {
			return model.ActionPlan{}, err
		}
	}
	return plan, nil
}

type decisionReply struct {
	NextStep string `json:"next_step"`
}

// Decide returns the next-step verdict. Values other than INF and END are
// returned as-is for the caller to record.
func (a *Agents) Decide(ctx context.Context, in model.DecisionInput) (model.Decision, error) {
	reply, err := ask[decisionReply](ctx, a.reasoning, prompts.NextStep, map[string]any{
		"Marker":        model.UnavailableMarker,
		"Query":         in.Query,
		"Plan":          in.Plan,
		"Memory":        in.Memory,
		"Understanding": in.Understanding,
	})
	if err != nil {
		return "", err
	}
	if err := llm.RequireField("next_step", reply.NextStep); err != nil {
		return "", err
	}
	return model.ParseDecision(reply.NextStep), nil
}

type seekReply struct {
	Database string `json:"database"`
	Request  string `json:"request"`
}

// Seek proposes the next information request. A NOT POSSIBLE reply is returned
// as an errx.UnavailableError.
func (a *Agents) Seek(ctx context.Context, in model.SeekInput) (model.InformationRequest, error) {
	reply, err := ask[seekReply](ctx, a.reasoning, prompts.InformationSeeking, map[string]any{
		"Databases":     a.catalog.Catalog(),
		"MaxDomains":    MaxDomainsPerRequest,
		"Query":         in.Query,
		"Plan":          in.Plan,
		"Memory":        in.Memory,
		"Understanding": in.Understanding,
	})
	if err != nil {
		return model.InformationRequest{}, err
	}
	if err := llm.RequireField("request", reply.Request); err != nil {
		return model.InformationRequest{}, err
	}
	domains := SplitDomains(reply.Database)
	if len(domains) == 0 {
		return model.InformationRequest{}, errx.Malformed("missing field %q", "database")
	}
	return model.InformationRequest{Domains: domains, Request: strings.TrimSpace(reply.Request)}, nil
}

// SplitDomains splits a comma separated database list, dropping blanks.
func SplitDomains(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
