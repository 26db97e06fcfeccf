package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sensemaking-core/server/internal/agent/llm"
	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/agent/prompts"
)

type summaryReply struct {
	Summary string `json:"summary"`
}

type understandingReply struct {
	Understanding string `json:"understanding"`
}

type responseReply struct {
	Response string `json:"response"`
}

// LocalSense summarizes one batch of function results for the request.
func (a *Agents) LocalSense(ctx context.Context, in model.LocalInput) (string, error) {
	reply, err := ask[summaryReply](ctx, a.data, prompts.LocalSense, map[string]any{
		"Request": in.Request,
		"Domains": strings.Join(in.Domains, ", "),
		"Results": renderResults(in.Results),
	})
	if err != nil {
		return "", err
	}
	if err := llm.RequireField("summary", reply.Summary); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Summary), nil
}

func renderResults(results []model.CallResult) string {
	if len(results) == 0 {
		return "No results."
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s [%s] %s:\n%s\n\n", r.CallID, r.Domain, r.Call.String(), r.Result)
	}
	return b.String()
}

// GlobalSense rewrites the understanding from the newest memory.
func (a *Agents) GlobalSense(ctx context.Context, in model.GlobalInput) (string, error) {
	reply, err := ask[understandingReply](ctx, a.reasoning, prompts.GlobalSense, map[string]any{
		"Marker":        model.UnavailableMarker,
		"Query":         in.Query,
		"Plan":          in.Plan,
		"Memory":        in.Memory,
		"Understanding": in.Understanding,
	})
	if err != nil {
		return "", err
	}
	if err := llm.RequireField("understanding", reply.Understanding); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Understanding), nil
}

// Present renders the final answer.
func (a *Agents) Present(ctx context.Context, in model.PresentInput) (string, error) {
	reply, err := ask[responseReply](ctx, a.reasoning, prompts.Presentation, map[string]any{
		"Marker":        model.UnavailableMarker,
		"Query":         in.Query,
		"Understanding": in.Understanding,
		"Instructions":  in.Instructions,
	})
	if err != nil {
		return "", err
	}
	if err := llm.RequireField("response", reply.Response); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Response), nil
}

// Summarizer runs windowed record summaries for the summary accessors.
type Summarizer struct {
	completer llm.Completer
}

func NewSummarizer(c llm.Completer) *Summarizer {
	return &Summarizer{completer: c}
}

func (s *Summarizer) Window(ctx context.Context, in model.SummaryWindow) (string, error) {
	values, err := json.Marshal(in.Values)
	if err != nil {
		return "", fmt.Errorf("encode %s records: %w", in.Type, err)
	}
	previous := in.Previous
	if previous == "" {
		previous = "None"
	}
	reply, err := ask[summaryReply](ctx, s.completer, prompts.SummaryWindow, map[string]any{
		"Type":         in.Type,
		"Instructions": in.Instructions,
		"WindowHours":  in.WindowHours,
		"Previous":     previous,
		"Values":       string(values),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Summary), nil
}

func (s *Summarizer) Combine(ctx context.Context, in model.SummaryCombination) (string, error) {
	reply, err := ask[summaryReply](ctx, s.completer, prompts.SummaryCombine, map[string]any{
		"Type":         in.Type,
		"Instructions": in.Instructions,
		"WindowHours":  in.WindowHours,
		"Summaries":    in.Summaries,
	})
	if err != nil {
		return "", err
	}
	if err := llm.RequireField("summary", reply.Summary); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Summary), nil
}
