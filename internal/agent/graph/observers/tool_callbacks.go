package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/Sensemaking-core/server/pkg/logger"
)

type startKey struct{}

// newToolHandler logs accessor calls with their arguments.
func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := logx.Debug().Str("function", info.Name)
			if input != nil {
				ev = ev.Str("arguments", clip(input.ArgumentsInJSON))
			}
			ev.Msg("Function call started")
			return context.WithValue(ctx, startKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			ev := logx.Debug().Str("function", info.Name)
			if start, ok := ctx.Value(startKey{}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(start))
			}
			if output != nil {
				ev = ev.Int("result_bytes", len(output.Response))
			}
			ev.Msg("Function call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("function", info.Name).Msg("Function call failed")
			return ctx
		},
	}
}

// newNodeHandler logs graph node boundaries.
func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			logx.Debug().Str("node", info.Name).Msg("Node started")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("node", info.Name).Msg("Node failed")
			return ctx
		}).
		Build()
}
