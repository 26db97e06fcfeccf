package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/Sensemaking-core/server/internal/agent/model"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// ModelsConfig holds the configuration for chat model creation
type ModelsConfig struct {
	APIKey    string
	BaseURL   string
	Reasoning *model.ReasoningModelConfig
	Data      *model.DataModelConfig
}

// Models holds the two completers shared by every agent.
// Reasoning serves planning, next-step, information seeking, global sensemaking and presentation;
// Data serves the database manager, local sensemaking and summaries; Code is the data
// model without the JSON-only directive, for the code-generation bridge.
type Models struct {
	Reasoning *ChatCompleter
	Data      *ChatCompleter
	Code      *ChatCompleter
}

// NewModels creates both Gemini chat models over one genai client.
func NewModels(ctx context.Context, config ModelsConfig) (*Models, error) {
	if config.Reasoning == nil || config.Data == nil {
		return nil, fmt.Errorf("model configs are nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	reasoning, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Reasoning.Model,
		Temperature: &config.Reasoning.Temperature,
		MaxTokens:   &config.Reasoning.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(config.Reasoning.ThinkingBudget),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating reasoning model")
		return nil, fmt.Errorf("error creating reasoning model: %w", err)
	}

	data, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Data.Model,
		Temperature: &config.Data.Temperature,
		MaxTokens:   &config.Data.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(config.Data.ThinkingBudget),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating data model")
		return nil, fmt.Errorf("error creating data model: %w", err)
	}

	return &Models{
		Reasoning: NewChatCompleter(reasoning, config.Reasoning.Model, config.Reasoning.JSONOnly),
		Data:      NewChatCompleter(data, config.Data.Model, config.Data.JSONOnly),
		Code:      NewChatCompleter(data, config.Data.Model, false),
	}, nil
}
