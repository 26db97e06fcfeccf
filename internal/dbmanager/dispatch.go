package dbmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/registry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// dispatch runs the calls in model order. Unknown functions, repeated functions and
// failed calls are logged and left out of the results.
func (m *Manager) dispatch(ctx context.Context, req model.DataRequest, o offer, calls *orderedmap.OrderedMap[string, model.FunctionCall]) []model.CallResult {
	results := []model.CallResult{}
	done := map[string]bool{}

	for pair := calls.Oldest(); pair != nil; pair = pair.Next() {
		if ctx.Err() != nil {
			logx.Warn().Err(ctx.Err()).Msg("Dispatch interrupted")
			break
		}
		id, call := strings.TrimSpace(pair.Key), pair.Value

		if isCompute(id, call.Name) {
			if !o.compute || done[ComputeID] {
				logx.Warn().Str("function_id", id).Msg("Compute call not offered or already made")
				continue
			}
			done[ComputeID] = true
			if r, ok := m.compute(ctx, req, o, id, call); ok {
				results = append(results, r)
			}
			continue
		}

		f, ref, ok := m.lookup(o, id, call.Name)
		if !ok {
			logx.Warn().Str("function_id", id).Str("function", call.Name).Msg("Unknown function requested")
			continue
		}
		if done[f.ID] {
			logx.Warn().Str("function_id", f.ID).Msg("Function already called for this request")
			continue
		}
		done[f.ID] = true

		call.Params = coerceParams(f, call.Params)
		out, err := run(ctx, f, ref, call.Params)
		if err != nil {
			logx.Warn().Err(err).Str("function_id", f.ID).Str("database", f.Domain).Msg("Function call failed")
			continue
		}
		logx.Debug().Str("function_id", f.ID).Str("database", f.Domain).Int("result_bytes", len(out)).Msg("Function called")
		results = append(results, model.CallResult{CallID: id, Call: call, Domain: f.Domain, Result: out})
	}
	return results
}

func isCompute(id, name string) bool {
	return id == ComputeID || name == ComputeName
}

// lookup resolves a call through the declared domain of its function id. Keys that are
// not function ids fall back to the function name among the offered functions.
func (m *Manager) lookup(o offer, id, name string) (registry.FunctionDescriptor, tool.InvokableTool, bool) {
	var candidates []registry.FunctionDescriptor
	if byID, ok := m.reg.FunctionByID(id); ok && o.has(byID.ID) {
		db, ok := m.reg.Domain(byID.Domain)
		if ok {
			for _, fid := range db.FunctionIDs() {
				if f := db.Functions[fid]; f.Name == name && o.has(fid) {
					candidates = append(candidates, f)
				}
			}
		}
	}
	if len(candidates) == 0 {
		for _, f := range o.functions {
			if f.Name == name && o.has(f.ID) {
				candidates = append(candidates, f)
			}
		}
	}
	if len(candidates) == 0 {
		return registry.FunctionDescriptor{}, nil, false
	}

	f := candidates[0]
	db, ok := m.reg.Domain(f.Domain)
	if !ok {
		return registry.FunctionDescriptor{}, nil, false
	}
	ref, ok := db.FunctionRefs[f.Name]
	return f, ref, ok && ref != nil
}

// run invokes the accessor as a tool component so tool callbacks observe it.
func run(ctx context.Context, f registry.FunctionDescriptor, ref tool.InvokableTool, params map[string]any) (out string, err error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	args := string(b)

	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{Name: f.Name, Type: f.Domain, Component: components.ComponentOfTool})
	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function panicked: %v", r)
		}
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: out})
	}()
	return ref.InvokableRun(ctx, args)
}

// coerceParams converts values the model commonly mistypes, like numeric user ids.
func coerceParams(f registry.FunctionDescriptor, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
		p, ok := f.Param(k)
		if !ok || v == nil {
			continue
		}
		switch p.Type {
		case registry.TypeString:
			if _, isString := v.(string); !isString {
				out[k] = fmt.Sprint(v)
			}
		case registry.TypeInteger:
			switch x := v.(type) {
			case float64:
				out[k] = int(x)
			case string:
				if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
					out[k] = n
				}
			}
		}
	}
	return out
}

func (m *Manager) compute(ctx context.Context, req model.DataRequest, o offer, id string, call model.FunctionCall) (model.CallResult, bool) {
	query := req.Question
	if q, ok := call.Params["user_query"].(string); ok && strings.TrimSpace(q) != "" {
		query = q
	}
	names := make([]string, len(o.databases))
	for i, d := range o.databases {
		names[i] = d.Name
	}

	out, err := m.coder.Compute(ctx, query, names)
	switch {
	case errors.Is(err, errx.ErrComputeFailed):
		logx.Warn().Err(err).Str("function_id", id).Msg("Compute gave up")
		out = errx.ComputeFailedMessage
	case err != nil:
		logx.Warn().Err(err).Str("function_id", id).Msg("Compute call failed")
		return model.CallResult{}, false
	}
	return model.CallResult{CallID: id, Call: call, Domain: ComputeDomain, Result: out}, true
}
