package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/Sensemaking-core/server/internal/agent/graph/nodes"
	"github.com/Sensemaking-core/server/internal/agent/graph/observers"
	"github.com/Sensemaking-core/server/internal/agent/model"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// Runner executes one sensemaking session per call.
type Runner interface {
	Run(ctx context.Context, q model.Query) (*model.Result, error)
}

// Config holds everything needed to build the sensemaking graph.
type Config struct {
	Agents      nodes.Agents
	Manager     nodes.DataManager
	Sensemaking model.SensemakingConfig
	// Repo is optional; results are not persisted when nil.
	Repo model.SessionRepository
}

// GraphBuilder handles the construction of the sensemaking graph
type GraphBuilder struct {
	deps  *nodes.Deps
	graph *compose.Graph[model.Session, model.Session]
}

type graphRunner struct {
	runnable compose.Runnable[model.Session, model.Session]
	repo     model.SessionRepository
}

func (r *graphRunner) Run(ctx context.Context, q model.Query) (*model.Result, error) {
	id := uuid.NewString()
	ledger := model.NewLedger()
	ctx = model.WithLedger(ctx, ledger)
	started := time.Now().UTC()

	logx.Info().Str("session_id", id).Str("query", q.Text).Msg("Session started")
	out, err := r.runnable.Invoke(ctx, model.NewSession(id, q), compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("Session aborted")
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	res := out.Result()
	res.Usage = ledger.Total()
	res.UsageByModel = ledger.ByModel()
	res.StartedAt = started
	res.FinishedAt = time.Now().UTC()

	logx.Info().
		Str("session_id", id).
		Int("iterations", res.Iterations).
		Int("llm_calls", res.Usage.Calls).
		Int("total_tokens", res.Usage.TotalTokens).
		Float64("cost_usd", res.Usage.CostUSD).
		Dur("elapsed", res.FinishedAt.Sub(started)).
		Msg("Session finished")

	if r.repo != nil {
		if err := r.repo.SaveResult(ctx, &res); err != nil {
			logx.Warn().Err(err).Str("session_id", id).Msg("Failed to persist session result")
		}
	}
	return &res, nil
}

// Build validates the config, compiles the graph and returns a Runner.
func Build(ctx context.Context, cfg Config) (Runner, error) {
	runnable, err := BuildGraph(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Sensemaking graph built successfully")
	return &graphRunner{runnable: runnable, repo: cfg.Repo}, nil
}

// BuildGraph constructs and returns the compiled sensemaking graph
func BuildGraph(ctx context.Context, cfg Config) (compose.Runnable[model.Session, model.Session], error) {
	if cfg.Agents == nil {
		return nil, errors.New("agents are nil")
	}
	if cfg.Manager == nil {
		return nil, errors.New("database manager is nil")
	}

	builder := &GraphBuilder{
		deps: &nodes.Deps{Agents: cfg.Agents, Manager: cfg.Manager, Config: cfg.Sensemaking},
		graph: compose.NewGraph[model.Session, model.Session](
			compose.WithGenLocalState(func(ctx context.Context) *model.RunState {
				return &model.RunState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	d := b.deps
	steps := []struct {
		key  string
		node *compose.Lambda
		opts []compose.GraphAddNodeOpt
	}{
		{nodes.NodeEntryGuard, nodes.NewEntryGuardNode(), []compose.GraphAddNodeOpt{
			compose.WithStatePreHandler(nodes.NewEntryGuardPreHandler()),
		}},
		{nodes.NodeActionPlan, nodes.NewActionPlanNode(d), nil},
		{nodes.NodeNextStep, nodes.NewNextStepNode(d), []compose.GraphAddNodeOpt{
			compose.WithStatePreHandler(nodes.NewNextStepPreHandler(d.Config.MaxDecisions)),
		}},
		{nodes.NodeInvalidState, nodes.NewInvalidStateNode(), nil},
		{nodes.NodeInformationSeeking, nodes.NewInformationSeekingNode(d), nil},
		{nodes.NodeDatabaseQuery, nodes.NewDatabaseQueryNode(d), nil},
		{nodes.NodeLocalSensemaking, nodes.NewLocalSensemakingNode(d), nil},
		{nodes.NodeGlobalSensemaking, nodes.NewGlobalSensemakingNode(d), nil},
		{nodes.NodePresentation, nodes.NewPresentationNode(d), nil},
		{nodes.NodeFinish, nodes.NewFinishNode(), nil},
	}

	for _, s := range steps {
		opts := append([]compose.GraphAddNodeOpt{compose.WithNodeName(s.key)}, s.opts...)
		if err := b.graph.AddLambdaNode(s.key, s.node, opts...); err != nil {
			logx.Error().Err(err).Str("node", s.key).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.key, err)
		}
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeEntryGuard},
		{nodes.NodeInvalidState, nodes.NodeNextStep},
		{nodes.NodeLocalSensemaking, nodes.NodeGlobalSensemaking},
		{nodes.NodeGlobalSensemaking, nodes.NodeNextStep},
		{nodes.NodePresentation, nodes.NodeFinish},
		{nodes.NodeFinish, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from    string
		cond    func(context.Context, model.Session) (string, error)
		targets []string
	}{
		{nodes.NodeEntryGuard, nodes.NewEntryGuardCondition(),
			[]string{nodes.NodeFinish, nodes.NodeActionPlan}},
		{nodes.NodeActionPlan, nodes.NewActionPlanCondition(),
			[]string{nodes.NodeFinish, nodes.NodeNextStep}},
		{nodes.NodeNextStep, nodes.NewNextStepCondition(),
			[]string{nodes.NodePresentation, nodes.NodeInformationSeeking, nodes.NodeInvalidState}},
		{nodes.NodeInformationSeeking, nodes.NewInformationSeekingCondition(),
			[]string{nodes.NodeDatabaseQuery, nodes.NodeNextStep}},
		{nodes.NodeDatabaseQuery, nodes.NewDatabaseQueryCondition(),
			[]string{nodes.NodeNextStep, nodes.NodeLocalSensemaking, nodes.NodeGlobalSensemaking}},
	}

	for _, br := range branches {
		ends := make(map[string]bool, len(br.targets))
		for _, t := range br.targets {
			ends[t] = true
		}
		if err := b.graph.AddBranch(br.from, compose.NewGraphBranch(br.cond, ends)); err != nil {
			logx.Error().Err(err).Str("node", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding branch after %s: %w", br.from, err)
		}
	}
	return nil
}

// maxRunSteps bounds graph execution. Every decision visits at most five loop
// nodes; the extra decision is the one that trips the budget.
func maxRunSteps(cfg model.SensemakingConfig) int {
	decisions := cfg.MaxDecisions
	if decisions <= 0 {
		decisions = nodes.DefaultMaxDecisions
	}
	return 10 + (decisions+1)*7
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.Session, model.Session], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("sensemaking"),
		compose.WithMaxRunSteps(maxRunSteps(b.deps.Config)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
