package llm

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// jsonOnlyDirective is appended as a trailing system message when JSON-only output is configured.
const jsonOnlyDirective = "Respond with exactly one JSON object. Do not wrap it in prose, markdown or code fences."

// Completer is the text-completion capability every agent is built on.
type Completer interface {
	Complete(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)
	ModelName() string
}

// ChatCompleter adapts an Eino chat model to Completer.
type ChatCompleter struct {
	chat     einomodel.BaseChatModel
	name     string
	jsonOnly bool
}

func NewChatCompleter(chat einomodel.BaseChatModel, modelName string, jsonOnly bool) *ChatCompleter {
	return &ChatCompleter{chat: chat, name: modelName, jsonOnly: jsonOnly}
}

func (c *ChatCompleter) ModelName() string { return c.name }

// Complete sends msgs to the model. Empty output is reported as malformed so the
// caller's retry policy treats it as transient.
func (c *ChatCompleter) Complete(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	if c.jsonOnly {
		msgs = append(msgs[:len(msgs):len(msgs)], schema.SystemMessage(jsonOnlyDirective))
	}

	out, err := c.chat.Generate(ctx, msgs)
	if err != nil {
		logx.Warn().Err(err).Str("model", c.name).Msg("Chat model call failed")
		return nil, errx.WrapLLM(err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return nil, errx.Malformed("empty completion from %s", c.name)
	}

	c.recordUsage(ctx, out)
	return out, nil
}

func (c *ChatCompleter) recordUsage(ctx context.Context, out *schema.Message) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage

	var inC, outC, totalC float64
	if ledger := model.LedgerFrom(ctx); ledger != nil {
		inC, outC, totalC = ledger.Record(c.name, usage)
	} else {
		inC, outC, totalC = model.ComputeCost(usage, model.ResolvePricing(c.name))
	}

	logx.Debug().
		Str("model", c.name).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}
