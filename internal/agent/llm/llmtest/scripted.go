// Package llmtest provides scripted text-completion fakes for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply is one scripted completion: either Content or Err.
type Reply struct {
	Content string
	Err     error
	Usage   *schema.TokenUsage
}

// Text is shorthand for a successful reply.
func Text(s string) Reply { return Reply{Content: s} }

// Fail is shorthand for a failed reply.
func Fail(err error) Reply { return Reply{Err: err} }

// ChatModel is an Eino BaseChatModel that plays back replies in order and records inputs.
// When the script runs out it returns an error.
type ChatModel struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]*schema.Message
}

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

func NewChatModel(replies ...Reply) *ChatModel {
	return &ChatModel{replies: replies}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
	if len(m.replies) == 0 {
		return nil, fmt.Errorf("llmtest: script exhausted after %d calls", len(m.calls))
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	msg := schema.AssistantMessage(r.Content, nil)
	if r.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: r.Usage}
	}
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the recorded inputs.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate ran.
func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Remaining returns the number of unplayed replies.
func (m *ChatModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}

// Completer is a llm.Completer over a scripted ChatModel.
type Completer struct {
	*ChatModel
	Name string
}

func NewCompleter(replies ...Reply) *Completer {
	return &Completer{ChatModel: NewChatModel(replies...), Name: "scripted"}
}

func (c *Completer) ModelName() string { return c.Name }

func (c *Completer) Complete(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	return c.Generate(ctx, msgs)
}

// Prompt joins every message of call i into one string for assertions.
func (m *ChatModel) Prompt(i int) string {
	calls := m.Calls()
	if i < 0 || i >= len(calls) {
		return ""
	}
	var b strings.Builder
	for _, msg := range calls[i] {
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
