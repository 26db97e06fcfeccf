// Package codegen answers data requests by having the model write a Go program over the
// accessor functions and running it in a sandbox until it prints an answer.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/Sensemaking-core/server/internal/agent/llm"
	"github.com/Sensemaking-core/server/internal/agent/prompts"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/registry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// Done is the sentinel the model sends once the printed output answers the task.
const Done = "TERMINATE"

// NoCodeFunctionsReason is returned when none of the databases export code functions.
const NoCodeFunctionsReason = "no code functions available for the requested databases"

const noCodeReply = "No ```go code block found. Send the complete program in one ```go block, or reply " + Done + " if the last output answers the task."

var codeBlock = regexp.MustCompile("(?s)```(?:go|golang)?[ \t]*\r?\n(.*?)```")

// Registry is the part of the function registry the bridge reads.
type Registry interface {
	Get(name string) (registry.DatabaseDescriptor, bool)
}

// Bridge implements the database manager's compute function.
type Bridge struct {
	reg       Registry
	llm       llm.Completer
	sandbox   Sandbox
	maxRounds int
}

func New(reg Registry, completer llm.Completer, sandbox Sandbox, maxRounds int) *Bridge {
	if maxRounds <= 0 {
		maxRounds = 6
	}
	return &Bridge{reg: reg, llm: completer, sandbox: sandbox, maxRounds: maxRounds}
}

// Compute runs the write, execute, revise loop for query over the named databases.
// It returns the last successful output, or an error wrapping errx.ErrComputeFailed.
func (b *Bridge) Compute(ctx context.Context, query string, domains []string) (string, error) {
	dbs, fns, refs := b.functions(domains)
	if len(refs) == 0 {
		return "", errx.Unavailable(NoCodeFunctionsReason)
	}

	msgs, err := prompts.Render(ctx, prompts.CodeGeneration, map[string]any{
		"Databases": dbs,
		"Functions": fns,
		"Imports":   `"` + strings.Join(append(StdImports[:len(StdImports):len(StdImports)], SandboxPackage), `", "`) + `"`,
		"Done":      Done,
		"Query":     query,
	})
	if err != nil {
		return "", err
	}

	var last string
	for round := 1; round <= b.maxRounds; round++ {
		reply, err := b.llm.Complete(ctx, msgs)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("round %d: %w", round, errors.Join(errx.ErrComputeFailed, err))
		}
		msgs = append(msgs, schema.AssistantMessage(reply.Content, nil))
		finished := strings.Contains(reply.Content, Done)

		code, ok := ExtractCode(reply.Content)
		if !ok {
			if finished {
				if last != "" {
					return last, nil
				}
				break
			}
			msgs = append(msgs, schema.UserMessage(noCodeReply))
			continue
		}

		exec, err := b.sandbox.Execute(ctx, code, refs)
		if err != nil {
			return "", fmt.Errorf("round %d: %w", round, err)
		}
		logx.Debug().Int("round", round).Int("exit_code", exec.ExitCode).Msg("Generated program ran")

		if exec.Succeeded() && strings.TrimSpace(exec.Stdout) != "" {
			last = strings.TrimSpace(exec.Stdout)
			if finished {
				return last, nil
			}
		}
		msgs = append(msgs, schema.UserMessage(Feedback(exec)))
	}

	if last != "" {
		logx.Warn().Int("rounds", b.maxRounds).Msg("Code generation never confirmed; returning last output")
		return last, nil
	}
	return "", fmt.Errorf("%w: no output after %d rounds", errx.ErrComputeFailed, b.maxRounds)
}

// functions renders the databases and code functions of domains and collects their callables.
func (b *Bridge) functions(domains []string) (string, string, Functions) {
	var dbs, fns strings.Builder
	refs := Functions{}
	for _, name := range registry.NormalizeNames(domains) {
		db, ok := b.reg.Get(name)
		if !ok {
			logx.Warn().Str("database", name).Msg("Requested database is not registered")
			continue
		}
		fmt.Fprintf(&dbs, "%s: %s\n", db.Name, db.Info)
		for _, id := range db.FunctionIDs() {
			f := db.Functions[id]
			ref, ok := db.FunctionRefs[f.Name]
			if !f.Supports(registry.UsecaseCodeGeneration) || !ok {
				continue
			}
			if _, dup := refs[f.Name]; dup {
				logx.Warn().Str("database", db.Name).Str("function_id", id).Msg("Function name already exported")
				continue
			}
			refs[f.Name] = ref
			fns.WriteString(f.Describe(true))
		}
	}
	return dbs.String(), fns.String(), refs
}

// ExtractCode returns the first fenced Go block of a reply.
func ExtractCode(content string) (string, bool) {
	m := codeBlock.FindStringSubmatch(content)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", false
	}
	return m[1], true
}

// Feedback renders a run for the next round.
func Feedback(e Execution) string {
	status := "execution succeeded"
	if !e.Succeeded() {
		status = "execution failed"
	}
	out := strings.TrimSpace(e.Stdout)
	if errText := strings.TrimSpace(e.Stderr); errText != "" {
		out = strings.TrimSpace(out + "\n" + errText)
	}
	if out == "" {
		out = "(no output)"
	}
	return fmt.Sprintf("exitcode: %d (%s)\nCode output: %s", e.ExitCode, status, out)
}
