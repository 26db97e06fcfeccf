package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewAllCallbacks aggregates all observer handlers (node, prompt, model, tool) into one callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Lambda(newNodeHandler()).
		Prompt(newPromptHandler()).
		ChatModel(newModelHandler()).
		Tool(newToolHandler()).
		Handler()
}
