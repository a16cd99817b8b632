package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/faturai/server/internal/agent/model"
	logx "github.com/faturai/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey           string
	BaseURL          string
	ClassifierConfig *model.ClassifierModelConfig
	SQLConfig        *model.SQLModelConfig
	AnswerConfig     *model.AnswerModelConfig
}

// ChatModels holds the three chat models of the pipeline. Fields are typed as
// the Eino BaseChatModel interface so tests can substitute scripted fakes.
type ChatModels struct {
	Classifier einomodel.BaseChatModel
	SQL        einomodel.BaseChatModel
	Answer     einomodel.BaseChatModel

	ClassifierModelName string
	SQLModelName        string
	AnswerModelName     string
}

// NewChatModels creates the classifier, SQL and answer chat models sharing one
// Gemini client.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
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

	classifier, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ClassifierConfig.Model,
		Temperature: &config.ClassifierConfig.Temperature,
		MaxTokens:   &config.ClassifierConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, fmt.Errorf("error creating classifier model: %w", err)
	}

	sqlModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.SQLConfig.Model,
		Temperature: &config.SQLConfig.Temperature,
		MaxTokens:   &config.SQLConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating SQL model")
		return nil, fmt.Errorf("error creating SQL model: %w", err)
	}

	answer, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.AnswerConfig.Model,
		Temperature: &config.AnswerConfig.Temperature,
		MaxTokens:   &config.AnswerConfig.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating answer model")
		return nil, fmt.Errorf("error creating answer model: %w", err)
	}

	return &ChatModels{
		Classifier:          classifier,
		SQL:                 sqlModel,
		Answer:              answer,
		ClassifierModelName: config.ClassifierConfig.Model,
		SQLModelName:        config.SQLConfig.Model,
		AnswerModelName:     config.AnswerConfig.Model,
	}, nil
}
