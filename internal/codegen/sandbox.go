package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	errx "github.com/Sensemaking-core/server/internal/core/error"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// SandboxPackage is the import path generated programs use to reach the accessors.
const SandboxPackage = "sensing"

// Exit codes reported for programs that did not finish cleanly.
const (
	ExitFailed  = 1
	ExitTimeout = 124
)

// StdImports are the standard packages a generated program may import.
var StdImports = []string{"encoding/json", "errors", "fmt", "math", "sort", "strconv", "strings", "time"}

// Functions maps accessor names to their callables.
type Functions map[string]tool.InvokableTool

// Execution is the outcome of one program run.
type Execution struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e Execution) Succeeded() bool { return e.ExitCode == 0 }

// Sandbox runs one generated program with access to fns.
type Sandbox interface {
	Execute(ctx context.Context, src string, fns Functions) (Execution, error)
}

// YaegiSandbox interprets programs with a fresh interpreter per run. Only StdImports
// and the accessor package are importable, so programs have no file system, process
// or network access of their own.
type YaegiSandbox struct {
	timeout time.Duration
}

func NewYaegiSandbox(timeout time.Duration) *YaegiSandbox {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &YaegiSandbox{timeout: timeout}
}

// Execute runs src. Compile errors, panics and timeouts are reported in the Execution;
// the error is only set when the sandbox itself could not be prepared or ctx ended.
func (s *YaegiSandbox) Execute(ctx context.Context, src string, fns Functions) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, errx.WrapSandbox(err)
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(stdSymbols()); err != nil {
		return Execution{}, errx.WrapSandbox(fmt.Errorf("load std symbols: %w", err))
	}
	if err := i.Use(accessorSymbols(runCtx, fns)); err != nil {
		return Execution{}, errx.WrapSandbox(fmt.Errorf("load accessor symbols: %w", err))
	}

	start := time.Now()
	_, err := i.EvalWithContext(runCtx, src)
	exec := Execution{Stdout: stdout.String(), Stderr: stderr.String()}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return exec, errx.WrapSandbox(ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		exec.ExitCode = ExitTimeout
		exec.Stderr += fmt.Sprintf("\nprogram timed out after %s", s.timeout)
	default:
		exec.ExitCode = ExitFailed
		exec.Stderr += "\n" + errorText(err)
	}

	logx.Debug().
		Int("exit_code", exec.ExitCode).
		Int("stdout_bytes", len(exec.Stdout)).
		Dur("elapsed", time.Since(start)).
		Msg("Sandbox run finished")
	return exec, nil
}

func errorText(err error) string {
	var p interp.Panic
	if errors.As(err, &p) {
		return fmt.Sprintf("panic: %v", p.Value)
	}
	return err.Error()
}

func stdSymbols() interp.Exports {
	out := interp.Exports{}
	for _, p := range StdImports {
		key := p + "/" + path.Base(p)
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	return out
}

func accessorSymbols(ctx context.Context, fns Functions) interp.Exports {
	call := func(name string, params map[string]any) (string, error) {
		ref, ok := fns[name]
		if !ok {
			return "", fmt.Errorf("unknown function %q", name)
		}
		args, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode params for %s: %w", name, err)
		}
		return ref.InvokableRun(ctx, string(args))
	}
	decode := func(text string, out any) error {
		return json.Unmarshal([]byte(text), out)
	}
	return interp.Exports{
		SandboxPackage + "/" + SandboxPackage: {
			"Call":   reflect.ValueOf(call),
			"Decode": reflect.ValueOf(decode),
		},
	}
}

// lockedBuffer guards output a timed-out program may still be writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
