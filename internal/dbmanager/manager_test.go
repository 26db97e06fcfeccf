package dbmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Sensemaking-core/server/internal/agent/llm/llmtest"
	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/registry"
)

type userInput struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// calls records every accessor invocation as "name:user_id".
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, s)
}

func (c *calls) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func fn(id, name string, usecases ...registry.Usecase) registry.FunctionDescriptor {
	if len(usecases) == 0 {
		usecases = []registry.Usecase{registry.UsecaseFunctionCalling}
	}
	return registry.FunctionDescriptor{
		ID: id, Name: name, Description: name,
		Params: []registry.Param{
			{Name: "user_id", Type: registry.TypeString, Required: true},
			{Name: "limit", Type: registry.TypeInteger},
		},
		Usecases: usecases,
	}
}

func recordingTool(log *calls, f registry.FunctionDescriptor) tool.InvokableTool {
	return utils.NewTool(f.ToolInfo(), func(ctx context.Context, in *userInput) (string, error) {
		if in.UserID == "broken" {
			return "", errors.New("store offline")
		}
		log.add(f.Name + ":" + in.UserID)
		return fmt.Sprintf(`{"function": %q, "user_id": %q, "limit": %d}`, f.Name, in.UserID, in.Limit), nil
	})
}

func database(log *calls, name, info string, fns ...registry.FunctionDescriptor) registry.DatabaseDescriptor {
	d := registry.DatabaseDescriptor{
		Name:         name,
		Info:         info,
		Device:       "Phone",
		Functions:    map[string]registry.FunctionDescriptor{},
		FunctionRefs: map[string]tool.InvokableTool{},
	}
	for _, f := range fns {
		d.Functions[f.ID] = f
		d.FunctionRefs[f.Name] = recordingTool(log, f)
	}
	return d
}

// fixture registers two databases that share a function name to exercise domain routing.
func fixture(t *testing.T) (*registry.Registry, *calls) {
	t.Helper()
	log := &calls{}
	reg := registry.New()
	require.NoError(t, reg.Register(database(log, "location database", "GPS fixes",
		fn("LOC1", "get_location_data", registry.UsecaseFunctionCalling, registry.UsecaseCodeGeneration),
		fn("LOC2", "get_records"),
		fn("LOC3", "get_location_summary"),
		fn("LOC4", "get_location_code_only", registry.UsecaseCodeGeneration),
	)))
	require.NoError(t, reg.Register(database(log, "wifi database", "Wifi connections",
		fn("WIFI0", "get_records"),
		fn("WIFI1", "get_wifi_blocks"),
	)))
	return reg, log
}

type fakeCoder struct {
	out     string
	err     error
	queries []string
	domains [][]string
}

func (c *fakeCoder) Compute(ctx context.Context, query string, domains []string) (string, error) {
	c.queries = append(c.queries, query)
	c.domains = append(c.domains, domains)
	return c.out, c.err
}

var noCompute = model.DBManagerConfig{}

func TestQueryNormalizesDatabaseNames(t *testing.T) {
	reg, log := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{"LOC1": {"name": "get_location_data", "params": {"user_id": "test004"}}}`))
	m := New(reg, c, nil, noCompute)

	results, err := m.Query(context.Background(), model.DataRequest{
		Question: "where was test004 on 2024-07-10?",
		Domains:  []string{"location", "location database", "unknown thing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "LOC1", results[0].CallID)
	assert.Equal(t, "location", results[0].Domain)
	assert.Equal(t, []string{"get_location_data:test004"}, log.all())

	prompt := c.Prompt(0)
	assert.Contains(t, prompt, "location database: GPS fixes")
	assert.Contains(t, prompt, "Function ID: LOC1")
	assert.Contains(t, prompt, "Function ID: LOC2")
	assert.NotContains(t, prompt, "LOC3", "summary functions are hidden by default")
	assert.NotContains(t, prompt, "LOC4", "code-only functions are never offered")
	assert.NotContains(t, prompt, "wifi database")
}

func TestQueryWithoutFunctionsSkipsTheModel(t *testing.T) {
	reg, _ := fixture(t)
	c := llmtest.NewCompleter()
	m := New(reg, c, &fakeCoder{}, model.DBManagerConfig{IncludeCompute: true})

	_, err := m.Query(context.Background(), model.DataRequest{Question: "sleep?", Domains: []string{"sleep database"}})
	reason, ok := errx.UnavailableReason(err)
	require.True(t, ok)
	assert.Equal(t, NoFunctionsReason, reason)
	assert.Zero(t, c.CallCount())
}

func TestQueryRoutesByDeclaredDomain(t *testing.T) {
	reg, log := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{
		"WIFI0": {"name": "get_records", "params": {"user_id": "u1"}},
		"LOC2": {"name": "get_records", "params": {"user_id": "u2"}},
		"LOC1": {"name": "get_location_data", "params": {"user_id": 7, "limit": "3"}}
	}`))
	m := New(reg, c, nil, noCompute)

	results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location", "wifi"}})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"WIFI0", "LOC2", "LOC1"}, []string{results[0].CallID, results[1].CallID, results[2].CallID})
	assert.Equal(t, "wifi", results[0].Domain)
	assert.Equal(t, "location", results[1].Domain)
	assert.Equal(t, []string{"get_records:u1", "get_records:u2", "get_location_data:7"}, log.all())
	assert.JSONEq(t, `{"function": "get_location_data", "user_id": "7", "limit": 3}`, results[2].Result)
	assert.Equal(t, "7", results[2].Call.Params["user_id"])
}

func TestQuerySkipsUnknownRepeatedAndFailingCalls(t *testing.T) {
	reg, log := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{
		"LOC9": {"name": "get_nothing", "params": {}},
		"LOC1": {"name": "get_location_data", "params": {"user_id": "u1"}},
		"call_2": {"name": "get_location_data", "params": {"user_id": "u2"}},
		"LOC4": {"name": "get_location_code_only", "params": {"user_id": "u3"}},
		"LOC2": {"name": "get_records", "params": {"user_id": "broken"}}
	}`))
	m := New(reg, c, nil, noCompute)

	results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "LOC1", results[0].CallID)
	assert.Equal(t, []string{"get_location_data:u1"}, log.all())
}

func TestQueryReportsAccessorsToToolCallbacks(t *testing.T) {
	reg, _ := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{
		"LOC1": {"name": "get_location_data", "params": {"user_id": "u1"}},
		"LOC2": {"name": "get_records", "params": {"user_id": "broken"}}
	}`))
	m := New(reg, c, nil, noCompute)

	var (
		mu      sync.Mutex
		started []string
		ended   []string
		failed  []string
		args    []string
	)
	h := callbackHelper.NewHandlerHelper().Tool(&callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, in *tool.CallbackInput) context.Context {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, info.Name)
			args = append(args, in.ArgumentsInJSON)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, out *tool.CallbackOutput) context.Context {
			mu.Lock()
			defer mu.Unlock()
			ended = append(ended, info.Name)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, info.Name)
			return ctx
		},
	}).Handler()
	ctx := callbacks.InitCallbacks(context.Background(), &callbacks.RunInfo{Name: "test"}, h)

	results, err := m.Query(ctx, model.DataRequest{Question: "q", Domains: []string{"location"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, []string{"get_location_data", "get_records"}, started)
	assert.Equal(t, []string{"get_location_data"}, ended)
	assert.Equal(t, []string{"get_records"}, failed)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"user_id": "u1"}`, args[0])
}

func TestQueryModelReplies(t *testing.T) {
	quota := errors.New("quota exceeded")
	tests := []struct {
		name    string
		reply   llmtest.Reply
		wantErr error
	}{
		{name: "not possible", reply: llmtest.Text(`{"NOT POSSIBLE": "no sleep data"}`), wantErr: errx.ErrUnavailable},
		{name: "prose", reply: llmtest.Text("call LOC1 please"), wantErr: errx.ErrMalformedOutput},
		{name: "missing name", reply: llmtest.Text(`{"LOC1": {"params": {}}}`), wantErr: errx.ErrMalformedOutput},
		{name: "model failure", reply: llmtest.Fail(errx.WrapLLM(quota)), wantErr: quota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, log := fixture(t)
			m := New(reg, llmtest.NewCompleter(tt.reply), nil, noCompute)
			_, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location"}})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, log.all())
		})
	}
}

func TestQueryEmptyCallMap(t *testing.T) {
	reg, _ := fixture(t)
	m := New(reg, llmtest.NewCompleter(llmtest.Text(`{}`)), nil, noCompute)
	results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location"}})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestQueryComputeRouting(t *testing.T) {
	t.Run("runs once with the model query", func(t *testing.T) {
		reg, _ := fixture(t)
		coder := &fakeCoder{out: "42 minutes"}
		c := llmtest.NewCompleter(llmtest.Text(`{
			"CODING1": {"name": "get_results_through_data_computation", "params": {"user_query": "total wifi time for u1"}},
			"CODING2": {"name": "get_results_through_data_computation", "params": {"user_query": "again"}}
		}`))
		m := New(reg, c, coder, model.DBManagerConfig{IncludeCompute: true})

		results, err := m.Query(context.Background(), model.DataRequest{Question: "fallback", Domains: []string{"wifi", "location"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, ComputeDomain, results[0].Domain)
		assert.Equal(t, "42 minutes", results[0].Result)
		assert.Equal(t, []string{"total wifi time for u1"}, coder.queries)
		assert.Equal(t, [][]string{{"wifi database", "location database"}}, coder.domains)
		assert.Contains(t, c.Prompt(0), "Function ID: CODING1")
	})

	t.Run("gave up", func(t *testing.T) {
		reg, _ := fixture(t)
		coder := &fakeCoder{err: fmt.Errorf("after 6 rounds: %w", errx.ErrComputeFailed)}
		c := llmtest.NewCompleter(llmtest.Text(`{"CODING1": {"name": "get_results_through_data_computation", "params": {}}}`))
		m := New(reg, c, coder, model.DBManagerConfig{IncludeCompute: true})

		results, err := m.Query(context.Background(), model.DataRequest{Question: "fallback", Domains: []string{"wifi"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, errx.ComputeFailedMessage, results[0].Result)
		assert.Equal(t, []string{"fallback"}, coder.queries)
	})

	t.Run("sandbox error is dropped", func(t *testing.T) {
		reg, _ := fixture(t)
		coder := &fakeCoder{err: errx.WrapSandbox(errors.New("interpreter crashed"))}
		c := llmtest.NewCompleter(llmtest.Text(`{"CODING1": {"name": "get_results_through_data_computation", "params": {}}}`))
		m := New(reg, c, coder, model.DBManagerConfig{IncludeCompute: true})

		results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"wifi"}})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("not offered", func(t *testing.T) {
		reg, _ := fixture(t)
		c := llmtest.NewCompleter(llmtest.Text(`{"CODING1": {"name": "get_results_through_data_computation", "params": {}}}`))
		m := New(reg, c, nil, model.DBManagerConfig{IncludeCompute: true})

		results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"wifi"}})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.NotContains(t, c.Prompt(0), "CODING1")
	})
}

func TestQueryComputeOnly(t *testing.T) {
	reg, log := fixture(t)
	coder := &fakeCoder{out: "3 blocks"}
	c := llmtest.NewCompleter(llmtest.Text(`{
		"WIFI1": {"name": "get_wifi_blocks", "params": {"user_id": "u1"}},
		"CODING1": {"name": "get_results_through_data_computation", "params": {"user_query": "count blocks"}}
	}`))
	m := New(reg, c, coder, model.DBManagerConfig{ComputeOnly: true})

	results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"wifi"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CODING1", results[0].CallID)
	assert.Empty(t, log.all())
	assert.NotContains(t, c.Prompt(0), "Function ID: WIFI1")
}

func TestQueryIncludeSummaries(t *testing.T) {
	reg, _ := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{}`))
	m := New(reg, c, nil, model.DBManagerConfig{IncludeSummaries: true})
	_, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location"}})
	require.NoError(t, err)
	assert.Contains(t, c.Prompt(0), "Function ID: LOC3")
}

func TestQueryHistoryInPrompt(t *testing.T) {
	reg, _ := fixture(t)
	c := llmtest.NewCompleter(llmtest.Text(`{}`))
	m := New(reg, c, nil, noCompute)
	_, err := m.Query(context.Background(), model.DataRequest{
		Question: "q",
		Domains:  []string{"location"},
		History:  []model.FunctionCallRecord{{ID: "LOC1", Name: "get_location_data", Params: map[string]any{"user_id": "u1"}, Result: "secret"}},
	})
	require.NoError(t, err)
	assert.Contains(t, c.Prompt(0), `"name":"get_location_data"`)
	assert.NotContains(t, c.Prompt(0), "secret")
}

func TestDecodeCallsKeepsOrder(t *testing.T) {
	calls, err := DecodeCalls("```json\n{\"b\": {\"name\": \"x\"}, \"a\": {\"name\": \"y\"}, \"c\": {\"name\": \"z\"}}\n```")
	require.NoError(t, err)
	var keys []string
	for pair := calls.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestQueryNeverExceedsOfferedFunctions(t *testing.T) {
	ids := []string{"LOC1", "LOC2", "LOC3", "LOC4", "WIFI0", "WIFI1", "CODING1", "X1"}
	names := map[string]string{
		"LOC1": "get_location_data", "LOC2": "get_records", "LOC3": "get_location_summary",
		"LOC4": "get_location_code_only", "WIFI0": "get_records", "WIFI1": "get_wifi_blocks",
		"CODING1": ComputeName, "X1": "get_unknown",
	}
	rapid.Check(t, func(t *rapid.T) {
		log := &calls{}
		reg := registry.New()
		_ = reg.Register(database(log, "location database", "GPS",
			fn("LOC1", "get_location_data"), fn("LOC2", "get_records"),
			fn("LOC3", "get_location_summary"), fn("LOC4", "get_location_code_only", registry.UsecaseCodeGeneration)))
		_ = reg.Register(database(log, "wifi database", "Wifi", fn("WIFI0", "get_records"), fn("WIFI1", "get_wifi_blocks")))

		picked := rapid.SliceOfN(rapid.SampledFrom(ids), 0, 12).Draw(t, "calls")
		var parts []string
		for i, id := range picked {
			parts = append(parts, fmt.Sprintf(`"%s_%d": {"name": %q, "params": {"user_id": "u"}}`, id, i, names[id]))
			parts = append(parts, fmt.Sprintf(`%q: {"name": %q, "params": {"user_id": "u"}}`, id, names[id]))
		}
		reply := "{" + strings.Join(parts, ",") + "}"

		coder := &fakeCoder{out: "ok"}
		m := New(reg, llmtest.NewCompleter(llmtest.Text(reply)), coder, model.DBManagerConfig{IncludeCompute: true})
		results, err := m.Query(context.Background(), model.DataRequest{Question: "q", Domains: []string{"location", "wifi"}})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		// LOC1, LOC2, WIFI0, WIFI1 and the compute function
		if len(results) > 5 {
			t.Fatalf("got %d results for 5 offered functions", len(results))
		}
		if len(coder.queries) > 1 {
			t.Fatalf("compute ran %d times", len(coder.queries))
		}
		seen := map[string]bool{}
		for _, r := range results {
			k := r.Domain + "/" + r.Call.Name
			if seen[k] {
				t.Fatalf("function %s ran twice", k)
			}
			seen[k] = true
		}
	})
}
