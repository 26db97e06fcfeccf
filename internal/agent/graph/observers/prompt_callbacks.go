package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// newPromptHandler logs rendered agent prompts.
func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil || len(output.Result) == 0 {
				return ctx
			}
			last := output.Result[len(output.Result)-1]
			if last == nil {
				return ctx
			}
			logx.Debug().Str("name", info.Name).Int("messages", len(output.Result)).Str("rendered", clip(last.Content)).Msg("Prompt rendered")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("name", info.Name).Msg("Prompt render failed")
			return ctx
		},
	}
}
