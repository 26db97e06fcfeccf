package prompts

import (
	"context"
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/*.txt
var templates embed.FS

// Name identifies a system/user template pair under template/.
type Name string

const (
	ActionPlan         Name = "action_plan"
	NextStep           Name = "next_step"
	InformationSeeking Name = "information_seeking"
	LocalSense         Name = "local_sense"
	GlobalSense        Name = "global_sense"
	Presentation       Name = "presentation"
	DatabaseManager    Name = "database_manager"
	CodeGeneration     Name = "code_generation"
	SummaryWindow      Name = "summary_window"
	SummaryCombine     Name = "summary_combine"
)

// All lists every template pair; Load checks each one at startup.
var All = []Name{
	ActionPlan, NextStep, InformationSeeking, LocalSense, GlobalSense,
	Presentation, DatabaseManager, CodeGeneration, SummaryWindow, SummaryCombine,
}

func load(name Name) (system, user string, err error) {
	sys, err := templates.ReadFile(fmt.Sprintf("template/%s_system.txt", name))
	if err != nil {
		return "", "", fmt.Errorf("load %s system template: %w", name, err)
	}
	usr, err := templates.ReadFile(fmt.Sprintf("template/%s_user.txt", name))
	if err != nil {
		return "", "", fmt.Errorf("load %s user template: %w", name, err)
	}
	return string(sys), string(usr), nil
}

// Load verifies that every template pair is embedded.
func Load() error {
	for _, n := range All {
		if _, _, err := load(n); err != nil {
			return err
		}
	}
	return nil
}

// Render formats the named pair via the Eino prompt component (Go template), which
// also emits prompt callbacks. It returns the system and user messages in that order.
func Render(ctx context.Context, name Name, vars map[string]any) ([]*schema.Message, error) {
	system, user, err := load(name)
	if err != nil {
		return nil, err
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) != 2 || msgs[0] == nil || msgs[1] == nil {
		return nil, fmt.Errorf("%s prompt render: unexpected result", name)
	}
	return msgs, nil
}
