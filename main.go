package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/faturai/server/internal/agent/graph"
	"github.com/faturai/server/internal/agent/model"
	"github.com/faturai/server/internal/agent/repo"
	"github.com/faturai/server/internal/core"
	"github.com/faturai/server/internal/database"
	logx "github.com/faturai/server/pkg/logger"
	pkgredis "github.com/faturai/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the pipeline example,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis    pkgredis.Config
	Database database.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Pipeline configs
	Classifier   model.ClassifierModelConfig
	SQL          model.SQLModelConfig
	Answer       model.AnswerModelConfig
	Pipeline     model.PipelineConfig
	Conversation model.ConversationConfig
}

func main() {
	ctx := context.Background()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	rdb, err := envCfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	gateway, err := database.NewPostgres(ctx, &envCfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer gateway.Close()

	if tables, err := gateway.ListTables(ctx); err == nil {
		logx.Info().Strs("tables", tables).Msg("Connected to Postgres")
	} else {
		logx.Warn().Err(err).Msg("Could not list database tables")
	}

	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", envCfg.Conversation.TTL, err)
	}

	cfg := graph.Config{
		APIKey:           envCfg.APIKey,
		BaseURL:          envCfg.BaseURL,
		ClassifierModel:  envCfg.Classifier,
		SQLModel:         envCfg.SQL,
		AnswerModel:      envCfg.Answer,
		Pipeline:         envCfg.Pipeline,
		Conversation:     envCfg.Conversation,
		ConversationRepo: repo.NewRedisConversationRepository(rdb, ttl),
		Gateway:          gateway,
	}

	runner, err := graph.BuildPipelineGraph(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Revenue question, straight through the pipeline",
			query:       "Qual foi o faturamento da loja no último mês?",
		},
		{
			description: "Top products with an explicit limit",
			query:       "Quais são os 5 produtos mais vendidos nos últimos 3 meses?",
		},
		{
			description: "Off-topic question, should be rejected",
			query:       "Qual o clima em São Paulo hoje?",
		},
		{
			description: "Vague question, should trigger clarification",
			query:       "Me fala sobre as vendas",
		},
	}

	conversationID := "demo-conversation-001"

	for i, test := range testQueries {
		fmt.Printf("\n🚀 Test %d: %s\n", i+1, test.description)
		fmt.Printf("Query: \"%s\"\n", test.query)

		out, err := runner.Invoke(ctx, model.QueryInput{
			ConversationID: conversationID,
			Query:          test.query,
		})
		if err != nil {
			log.Fatalf("Failed to invoke graph for test %d: %v", i+1, err)
		}

		printOutput(out)

		// Demonstrate the resume flow: answer the clarifier's question once.
		if out.Status == model.StatusAwaitingInput {
			followUp := "Quero o total de vendas do último mês."
			fmt.Printf("Resuming with: \"%s\"\n", followUp)

			out, err = runner.Invoke(ctx, model.QueryInput{
				ConversationID: conversationID,
				Query:          followUp,
				ResumeToken:    out.ResumeToken,
			})
			if err != nil {
				log.Fatalf("Failed to resume graph for test %d: %v", i+1, err)
			}
			printOutput(out)
		}

		fmt.Println("─────────────────────────────────────────────")

		// slight delay between tests for readability
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("🎉 All pipeline tests completed!")
}

func printOutput(out *model.QueryOutput) {
	fmt.Printf("Status: %s\n", out.Status)
	fmt.Printf("Answer: %s\n", out.Answer)
	if out.SQLQuery != "" {
		fmt.Printf("SQL: %s\n", out.SQLQuery)
	}
	if out.Chart != "" && out.Chart != "none" {
		fmt.Printf("Chart: %s (%s)\n", out.Chart, out.ChartReason)
	}
}
