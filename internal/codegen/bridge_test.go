package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sensemaking-core/server/internal/agent/llm/llmtest"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	echo := func(name string) tool.InvokableTool {
		return utils.NewTool(&schema.ToolInfo{Name: name, Desc: name},
			func(ctx context.Context, in *userInput) (string, error) { return `"` + name + `"`, nil })
	}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.DatabaseDescriptor{
		Name: "app usage database", Info: "App open and close events", Device: "Phone",
		Functions: map[string]registry.FunctionDescriptor{
			"APP1": {ID: "APP1", Name: "get_app_usage_blocks", Description: "usage blocks",
				CodingInstructions: "Durations are in seconds.",
				Usecases:           []registry.Usecase{registry.UsecaseFunctionCalling, registry.UsecaseCodeGeneration}},
			"APP4": {ID: "APP4", Name: "get_app_usage_summary", Description: "summary",
				Usecases: []registry.Usecase{registry.UsecaseFunctionCalling}},
		},
		FunctionRefs: map[string]tool.InvokableTool{
			"get_app_usage_blocks":  blocksTool()["get_app_usage_blocks"],
			"get_app_usage_summary": echo("get_app_usage_summary"),
		},
	}))
	require.NoError(t, reg.Register(registry.DatabaseDescriptor{
		Name: "wifi database", Info: "Wifi", Device: "Phone",
		Functions: map[string]registry.FunctionDescriptor{
			"WIFI0": {ID: "WIFI0", Name: "get_wifi_records", Description: "wifi records",
				Usecases: []registry.Usecase{registry.UsecaseCodeGeneration}},
		},
		FunctionRefs: map[string]tool.InvokableTool{"get_wifi_records": echo("get_wifi_records")},
	}))
	return reg
}

// scriptedSandbox returns executions in order and records the programs it saw.
type scriptedSandbox struct {
	runs     []Execution
	programs []string
	exported []string
}

func (s *scriptedSandbox) Execute(ctx context.Context, src string, fns Functions) (Execution, error) {
	s.programs = append(s.programs, src)
	s.exported = s.exported[:0]
	for name := range fns {
		s.exported = append(s.exported, name)
	}
	if len(s.runs) == 0 {
		return Execution{}, errors.New("no scripted run")
	}
	e := s.runs[0]
	s.runs = s.runs[1:]
	return e, nil
}

func program(body string) string {
	return "Here you go:\n```go\npackage main\n\nfunc main() {\n" + body + "\n}\n```\n"
}

func TestComputeRevisesUntilDone(t *testing.T) {
	c := llmtest.NewCompleter(
		llmtest.Text(program("broken(")),
		llmtest.Text(program(`println("7 apps")`)),
		llmtest.Text(Done),
	)
	sb := &scriptedSandbox{runs: []Execution{
		{Stderr: "syntax error", ExitCode: ExitFailed},
		{Stdout: "7 apps\n"},
	}}
	b := New(testRegistry(t), c, sb, 6)

	out, err := b.Compute(context.Background(), "how many apps did u1 open?", []string{"app usage", "wifi"})
	require.NoError(t, err)
	assert.Equal(t, "7 apps", out)
	assert.Len(t, sb.programs, 2)
	assert.ElementsMatch(t, []string{"get_app_usage_blocks", "get_wifi_records"}, sb.exported)

	first := c.Prompt(0)
	assert.Contains(t, first, "Function ID: APP1")
	assert.Contains(t, first, "Durations are in seconds.")
	assert.NotContains(t, first, "APP4")
	assert.Contains(t, first, `"sensing"`)
	assert.Contains(t, first, "how many apps did u1 open?")
	assert.Contains(t, c.Prompt(1), "exitcode: 1 (execution failed)\nCode output: syntax error")
	assert.Contains(t, c.Prompt(2), "exitcode: 0 (execution succeeded)\nCode output: 7 apps")
}

func TestComputeDoneWithCode(t *testing.T) {
	c := llmtest.NewCompleter(llmtest.Text(program(`println("42")`) + "\n" + Done))
	b := New(testRegistry(t), c, &scriptedSandbox{runs: []Execution{{Stdout: "42\n"}}}, 6)

	out, err := b.Compute(context.Background(), "q", []string{"app usage"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, 1, c.CallCount())
}

func TestComputeGivesUp(t *testing.T) {
	t.Run("rounds exhausted", func(t *testing.T) {
		c := llmtest.NewCompleter(
			llmtest.Text(program("a()")),
			llmtest.Text("I am not sure"),
			llmtest.Text(program("b()")),
		)
		sb := &scriptedSandbox{runs: []Execution{{ExitCode: ExitFailed}, {ExitCode: ExitTimeout}}}
		_, err := New(testRegistry(t), c, sb, 3).Compute(context.Background(), "q", []string{"app usage"})
		assert.ErrorIs(t, err, errx.ErrComputeFailed)
		assert.Contains(t, c.Prompt(2), "No ```go code block found")
	})

	t.Run("done without output", func(t *testing.T) {
		c := llmtest.NewCompleter(llmtest.Text(Done))
		_, err := New(testRegistry(t), c, &scriptedSandbox{}, 6).Compute(context.Background(), "q", []string{"app usage"})
		assert.ErrorIs(t, err, errx.ErrComputeFailed)
	})

	t.Run("model failure", func(t *testing.T) {
		quota := errors.New("quota")
		c := llmtest.NewCompleter(llmtest.Fail(quota))
		_, err := New(testRegistry(t), c, &scriptedSandbox{}, 6).Compute(context.Background(), "q", []string{"app usage"})
		assert.ErrorIs(t, err, errx.ErrComputeFailed)
		assert.ErrorIs(t, err, quota)
	})

	t.Run("last output kept", func(t *testing.T) {
		c := llmtest.NewCompleter(llmtest.Text(program("a()")), llmtest.Text(program("b()")))
		sb := &scriptedSandbox{runs: []Execution{{Stdout: "partial\n"}, {ExitCode: ExitFailed}}}
		out, err := New(testRegistry(t), c, sb, 2).Compute(context.Background(), "q", []string{"app usage"})
		require.NoError(t, err)
		assert.Equal(t, "partial", out)
	})
}

func TestComputeWithoutCodeFunctions(t *testing.T) {
	c := llmtest.NewCompleter()
	_, err := New(testRegistry(t), c, &scriptedSandbox{}, 6).Compute(context.Background(), "q", []string{"sleep"})
	reason, ok := errx.UnavailableReason(err)
	require.True(t, ok)
	assert.Equal(t, NoCodeFunctionsReason, reason)
	assert.Zero(t, c.CallCount())
}

func TestComputeEndToEnd(t *testing.T) {
	reply := "```go\n" + sumProgram + "```"
	c := llmtest.NewCompleter(llmtest.Text(reply), llmtest.Text(Done))
	b := New(testRegistry(t), c, NewYaegiSandbox(5*time.Second), 4)

	out, err := b.Compute(context.Background(), "total app time for u1", []string{"app usage database"})
	require.NoError(t, err)
	assert.Equal(t, "total seconds: 420.5", out)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "```go\nfmt.Println(1)\n```", want: "fmt.Println(1)\n", ok: true},
		{in: "text\n```golang\nx := 1\n```\nmore ```go\ny\n```", want: "x := 1\n", ok: true},
		{in: "```\nplain\n```", want: "plain\n", ok: true},
		{in: "```go\n\n```", ok: false},
		{in: Done, ok: false},
	}
	for _, tt := range tests {
		got, ok := ExtractCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFeedback(t *testing.T) {
	assert.Equal(t, "exitcode: 0 (execution succeeded)\nCode output: (no output)", Feedback(Execution{}))
	got := Feedback(Execution{Stdout: "a\n", Stderr: "boom\n", ExitCode: ExitTimeout})
	assert.True(t, strings.HasPrefix(got, "exitcode: 124 (execution failed)"))
	assert.Contains(t, got, "a\nboom")
}
