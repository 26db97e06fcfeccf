package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sensemaking-core/server/internal/agent/llm/llmtest"
	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
)

func TestChatCompleterJSONOnly(t *testing.T) {
	chat := llmtest.NewChatModel(llmtest.Text(`{"ok": true}`), llmtest.Text(`{"ok": true}`))

	plain := NewChatCompleter(chat, "gemini-2.5-flash", false)
	_, err := plain.Complete(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	strict := NewChatCompleter(chat, "gemini-2.5-flash", true)
	in := []*schema.Message{schema.UserMessage("hi")}
	_, err = strict.Complete(context.Background(), in)
	require.NoError(t, err)

	calls := chat.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 1)
	require.Len(t, calls[1], 2)
	assert.Equal(t, schema.System, calls[1][1].Role)
	assert.Len(t, in, 1, "caller slice must not grow")
}

func TestChatCompleterErrors(t *testing.T) {
	chat := llmtest.NewChatModel(llmtest.Fail(errors.New("quota")), llmtest.Text("   "))
	c := NewChatCompleter(chat, "m", false)

	_, err := c.Complete(context.Background(), nil)
	var appErr *errx.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errx.LLMErrorMessage, appErr.Message)

	_, err = c.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, errx.ErrMalformedOutput)
}

func TestChatCompleterRecordsUsage(t *testing.T) {
	chat := llmtest.NewChatModel(llmtest.Reply{
		Content: `{}`,
		Usage:   &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 0, TotalTokens: 1_000_000},
	})
	ledger := model.NewLedger()
	ctx := model.WithLedger(context.Background(), ledger)

	_, err := NewChatCompleter(chat, "gemini-2.5-flash", false).Complete(ctx, nil)
	require.NoError(t, err)

	total := ledger.Total()
	assert.Equal(t, 1, total.Calls)
	assert.InDelta(t, 0.30, total.CostUSD, 1e-9)
}

func TestDecode(t *testing.T) {
	type plan struct {
		ActionPlan string `json:"action_plan"`
	}

	tests := []struct {
		name       string
		content    string
		want       string
		wantErr    error
		wantReason string
	}{
		{name: "bare object", content: `{"action_plan": "use location"}`, want: "use location"},
		{name: "fenced", content: "```json\n{\"action_plan\": \"x\"}\n```", want: "x"},
		{name: "prose around", content: "Sure! {\"action_plan\": \"y\"} hope this helps", want: "y"},
		{name: "not possible", content: `{"NOT POSSIBLE": "no relevant data"}`, wantErr: errx.ErrUnavailable, wantReason: "no relevant data"},
		{name: "not possible empty reason", content: `{"NOT POSSIBLE": ""}`, wantErr: errx.ErrUnavailable},
		{name: "no object", content: "I cannot help", wantErr: errx.ErrMalformedOutput},
		{name: "wrong type", content: `{"action_plan": 5}`, wantErr: errx.ErrMalformedOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[plan](tt.content)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				if tt.wantReason != "" {
					reason, ok := errx.UnavailableReason(err)
					require.True(t, ok)
					assert.Equal(t, tt.wantReason, reason)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ActionPlan)
		})
	}
}

func TestRequireField(t *testing.T) {
	assert.NoError(t, RequireField("summary", "x"))
	assert.ErrorIs(t, RequireField("summary", " "), errx.ErrMalformedOutput)
}
