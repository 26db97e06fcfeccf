// Package dbmanager turns a natural-language data request into concrete accessor
// calls, runs them and returns their raw results.
package dbmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Sensemaking-core/server/internal/agent/llm"
	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/agent/prompts"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/registry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

const (
	// ComputeID is the reserved function id routed to the code-generation bridge.
	ComputeID = "CODING1"
	// ComputeDomain is the reserved domain tag of ComputeID.
	ComputeDomain = "compute"
	ComputeName   = "get_results_through_data_computation"

	// NoFunctionsReason is returned when no requested database resolves to a function.
	NoFunctionsReason = "no functions available for the requested databases"
)

// CodeComputer answers a request by generating and running a program over the accessors.
type CodeComputer interface {
	Compute(ctx context.Context, query string, domains []string) (string, error)
}

// Registry is the part of the function registry the manager reads.
type Registry interface {
	Get(name string) (registry.DatabaseDescriptor, bool)
	FunctionByID(id string) (registry.FunctionDescriptor, bool)
	Domain(tag string) (registry.DatabaseDescriptor, bool)
}

// Manager is the database manager. It is stateless; call history comes with each request.
type Manager struct {
	reg   Registry
	llm   llm.Completer
	coder CodeComputer
	cfg   model.DBManagerConfig
}

// New builds a manager. coder may be nil, which hides the compute function.
func New(reg Registry, completer llm.Completer, coder CodeComputer, cfg model.DBManagerConfig) *Manager {
	return &Manager{reg: reg, llm: completer, coder: coder, cfg: cfg}
}

// offer is the set of functions one request may call.
type offer struct {
	databases []registry.DatabaseDescriptor
	functions []registry.FunctionDescriptor // prompt order
	byID      map[string]registry.FunctionDescriptor
	compute   bool
}

func (o offer) has(id string) bool {
	_, ok := o.byID[id]
	return ok
}

// resolve normalizes the requested names and collects their callable functions.
func (m *Manager) resolve(domains []string) offer {
	o := offer{byID: map[string]registry.FunctionDescriptor{}}
	for _, name := range registry.NormalizeNames(domains) {
		db, ok := m.reg.Get(name)
		if !ok {
			logx.Warn().Str("database", name).Msg("Requested database is not registered")
			continue
		}
		o.databases = append(o.databases, db)
		for _, id := range db.FunctionIDs() {
			f := db.Functions[id]
			if !f.Supports(registry.UsecaseFunctionCalling) {
				continue
			}
			if !m.cfg.IncludeSummaries && strings.Contains(f.Name, "summary") {
				continue
			}
			if _, ok := db.FunctionRefs[f.Name]; !ok {
				logx.Warn().Str("database", db.Name).Str("function_id", id).Msg("Function has no callable")
				continue
			}
			o.byID[id] = f
			o.functions = append(o.functions, f)
		}
	}
	return o
}

func computeDescriptor(databases []registry.DatabaseDescriptor) registry.FunctionDescriptor {
	names := make([]string, len(databases))
	for i, d := range databases {
		names[i] = d.Name
	}
	return registry.FunctionDescriptor{
		ID:               ComputeID,
		Name:             ComputeName,
		Domain:           ComputeDomain,
		Description:      fmt.Sprintf("Generates and runs a program that answers the query using data from %s.", strings.Join(names, ", ")),
		CallInstructions: "Call this function to perform calculation and computation, including aggregation over data from multiple databases.",
		Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
		Params: []registry.Param{{
			Name: "user_query", Type: registry.TypeString, Required: true,
			Description: "The computation to perform. Include the user_id in the query.",
		}},
		Returns: "The printed answer of the generated program.",
	}
}

// Query resolves the request, asks the model for calls and runs them in order.
// An unanswerable request is returned as an errx.UnavailableError.
func (m *Manager) Query(ctx context.Context, req model.DataRequest) ([]model.CallResult, error) {
	o := m.resolve(req.Domains)
	if len(o.functions) == 0 {
		return nil, errx.Unavailable(NoFunctionsReason)
	}

	prompted := o.functions
	if m.coder != nil && (m.cfg.IncludeCompute || m.cfg.ComputeOnly) {
		o.compute = true
		if m.cfg.ComputeOnly {
			prompted = nil
			o.byID = map[string]registry.FunctionDescriptor{}
		}
		prompted = append(prompted[:len(prompted):len(prompted)], computeDescriptor(o.databases))
	}

	calls, err := m.plan(ctx, req, o.databases, prompted)
	if err != nil {
		return nil, err
	}
	return m.dispatch(ctx, req, o, calls), nil
}

func (m *Manager) plan(ctx context.Context, req model.DataRequest, dbs []registry.DatabaseDescriptor, fns []registry.FunctionDescriptor) (*orderedmap.OrderedMap[string, model.FunctionCall], error) {
	var databases strings.Builder
	for _, d := range dbs {
		fmt.Fprintf(&databases, "%s: %s\n", d.Name, d.Info)
		if d.AdditionalInstructions != "" {
			fmt.Fprintf(&databases, "Additional instructions: %s\n", d.AdditionalInstructions)
		}
	}
	sorted := append([]registry.FunctionDescriptor(nil), fns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID == ComputeID && sorted[j].ID != ComputeID })
	var functions strings.Builder
	for _, f := range fns {
		functions.WriteString(f.Describe(false))
	}

	msgs, err := prompts.Render(ctx, prompts.DatabaseManager, map[string]any{
		"Databases":   databases.String(),
		"Functions":   functions.String(),
		"ExampleID":   sorted[0].ID,
		"ExampleName": sorted[0].Name,
		"Request":     req.Question,
		"History":     model.HistoryJSON(req.History),
	})
	if err != nil {
		return nil, err
	}
	out, err := m.llm.Complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return DecodeCalls(out.Content)
}

// DecodeCalls parses the model's call map, keeping the order the model wrote it in.
func DecodeCalls(content string) (*orderedmap.OrderedMap[string, model.FunctionCall], error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	if reason, ok := llm.NotPossible(raw); ok {
		return nil, errx.Unavailable(reason)
	}
	calls := orderedmap.New[string, model.FunctionCall]()
	if err := calls.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, errx.Malformed("decode function calls: %v", err)
	}
	for pair := calls.Oldest(); pair != nil; pair = pair.Next() {
		if strings.TrimSpace(pair.Value.Name) == "" {
			return nil, errx.Malformed("function call %q has no name", pair.Key)
		}
	}
	return calls, nil
}
