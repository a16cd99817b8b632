// Package graph composes the conversational SQL pipeline: classification
// gate, clarification loop with suspend/resume, schema discovery, bounded
// SQL generate/validate/execute retries, answer synthesis and chart advice.
package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/faturai/server/internal/agent/graph/conversations"
	"github.com/faturai/server/internal/agent/graph/nodes"
	"github.com/faturai/server/internal/agent/graph/observers"
	"github.com/faturai/server/internal/agent/model"
	"github.com/faturai/server/internal/database"
	logx "github.com/faturai/server/pkg/logger"
)

// Runner is a thin wrapper to execute the compiled graph with the public QueryInput.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.QueryOutput, error)
}

// Config holds everything needed to compose the full pipeline graph
// end-to-end. This is a convenience layer over GraphConfig that also
// constructs ChatModels and MessagesManager.
type Config struct {
	APIKey  string
	BaseURL string

	ClassifierModel model.ClassifierModelConfig
	SQLModel        model.SQLModelConfig
	AnswerModel     model.AnswerModelConfig

	Pipeline     model.PipelineConfig
	Conversation model.ConversationConfig

	ConversationRepo model.ConversationRepository
	Gateway          database.Gateway
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModels       *nodes.ChatModels
	MessagesManager  *conversations.MessagesManager
	ConversationRepo model.ConversationRepository
	Gateway          database.Gateway
	Pipeline         *model.PipelineConfig
	ClarifyMaxTurns  int
}

// GraphBuilder handles the construction of the pipeline graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.QueryInput, *model.QueryOutput]
}

type graphRunner struct {
	runnable compose.Runnable[model.QueryInput, *model.QueryOutput]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.QueryOutput, error) {
	return r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildPipelineGraph composes ChatModels, MessagesManager, builds the graph, and returns a Runner.
func BuildPipelineGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("database gateway is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		ClassifierConfig: &cfg.ClassifierModel,
		SQLConfig:        &cfg.SQLModel,
		AnswerConfig:     &cfg.AnswerModel,
	})
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.ConversationRepo)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		ChatModels:       cms,
		MessagesManager:  mm,
		ConversationRepo: cfg.ConversationRepo,
		Gateway:          cfg.Gateway,
		Pipeline:         &cfg.Pipeline,
		ClarifyMaxTurns:  cfg.Conversation.Clarify.MaxTurns,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Pipeline graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled pipeline graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *model.QueryOutput], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Classifier == nil ||
		config.ChatModels.SQL == nil || config.ChatModels.Answer == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}
	if config.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if config.Gateway == nil {
		return nil, fmt.Errorf("database gateway is nil")
	}
	if config.Pipeline == nil {
		return nil, fmt.Errorf("pipeline config is nil")
	}
	if config.ClarifyMaxTurns <= 0 {
		config.ClarifyMaxTurns = 3
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.QueryInput, *model.QueryOutput](
			compose.WithGenLocalState(func(ctx context.Context) *model.AgentState {
				return &model.AgentState{}
			}),
		),
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	cms := b.config.ChatModels
	mm := b.config.MessagesManager
	repo := b.config.ConversationRepo

	b.graph.AddLambdaNode(nodes.NodeIntake,
		nodes.NewIntakeNode(mm, repo),
		compose.WithStatePreHandler(nodes.NewIntakePreHandler()),
	)

	b.graph.AddChatModelNode(nodes.NodeClassifyModel,
		cms.Classifier,
		compose.WithStatePostHandler(nodes.NewClassifyModelPostHandler(cms.ClassifierModelName)),
	)

	b.graph.AddLambdaNode(nodes.NodeClarifyPrompt,
		nodes.NewClarifyPromptNode(mm),
	)

	b.graph.AddChatModelNode(nodes.NodeClarifyModel,
		cms.Answer,
		compose.WithStatePostHandler(nodes.NewClarifyModelPostHandler(cms.AnswerModelName)),
	)

	b.graph.AddLambdaNode(nodes.NodeAwaitInput,
		nodes.NewAwaitInputNode(mm, repo),
	)

	b.graph.AddLambdaNode(nodes.NodeSchemaInspector,
		nodes.NewSchemaInspectorNode(b.config.Gateway, b.config.Pipeline.Tables),
	)

	b.graph.AddLambdaNode(nodes.NodeSQLGenerator,
		nodes.NewSQLGeneratorNode(cms, b.config.Pipeline),
	)

	b.graph.AddLambdaNode(nodes.NodeSQLChecker,
		nodes.NewSQLCheckerNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeSQLExecutor,
		nodes.NewSQLExecutorNode(b.config.Gateway),
	)

	b.graph.AddLambdaNode(nodes.NodeAnswerer,
		nodes.NewAnswererNode(cms, mm),
	)

	b.graph.AddLambdaNode(nodes.NodeChartAdvisor,
		nodes.NewChartAdvisorNode(cms),
	)

	b.graph.AddLambdaNode(nodes.NodeFinalizer,
		nodes.NewFinalizerNode(repo),
	)

	b.graph.AddLambdaNode(nodes.NodeRejection,
		nodes.NewRejectionNode(mm, repo),
	)

	b.graph.AddLambdaNode(nodes.NodeGiveUp,
		nodes.NewGiveUpNode(mm, repo),
	)
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeIntake},
		{nodes.NodeClarifyPrompt, nodes.NodeClarifyModel},
		{nodes.NodeSchemaInspector, nodes.NodeSQLGenerator},
		{nodes.NodeSQLGenerator, nodes.NodeSQLChecker},
		{nodes.NodeAnswerer, nodes.NodeChartAdvisor},
		{nodes.NodeChartAdvisor, nodes.NodeFinalizer},
		{nodes.NodeFinalizer, compose.END},
		{nodes.NodeAwaitInput, compose.END},
		{nodes.NodeRejection, compose.END},
		{nodes.NodeGiveUp, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	intakeBranch := compose.NewGraphBranch(
		nodes.NewIntakeCondition(),
		map[string]bool{
			nodes.NodeClarifyPrompt: true,
			nodes.NodeClassifyModel: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeIntake, intakeBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding intake branch")
		return fmt.Errorf("error adding intake branch: %w", err)
	}

	classifyBranch := compose.NewGraphBranch(
		nodes.NewClassifyCondition(),
		map[string]bool{
			nodes.NodeClarifyPrompt: true,
			nodes.NodeRejection:     true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeClassifyModel, classifyBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding classification branch")
		return fmt.Errorf("error adding classification branch: %w", err)
	}

	clarifyBranch := compose.NewGraphBranch(
		nodes.NewClarifyCondition(b.config.ClarifyMaxTurns),
		map[string]bool{
			nodes.NodeSchemaInspector: true,
			nodes.NodeRejection:       true,
			nodes.NodeAwaitInput:      true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeClarifyModel, clarifyBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding clarification branch")
		return fmt.Errorf("error adding clarification branch: %w", err)
	}

	retryBranch := compose.NewGraphBranch(
		nodes.NewSQLRetryCondition(b.config.Pipeline.MaxSQLAttempts),
		map[string]bool{
			nodes.NodeSQLGenerator: true,
			nodes.NodeSQLExecutor:  true,
			nodes.NodeGiveUp:       true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeSQLChecker, retryBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding retry branch")
		return fmt.Errorf("error adding retry branch: %w", err)
	}

	executorBranch := compose.NewGraphBranch(
		nodes.NewExecutorCondition(b.config.Pipeline.MaxSQLAttempts),
		map[string]bool{
			nodes.NodeSQLGenerator: true,
			nodes.NodeAnswerer:     true,
			nodes.NodeGiveUp:       true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeSQLExecutor, executorBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding executor branch")
		return fmt.Errorf("error adding executor branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *model.QueryOutput], error) {
	// Limit total run steps so a misbehaving retry loop can never spin forever
	maxAttempts := b.config.Pipeline.MaxSQLAttempts
	if maxAttempts <= 0 {
		maxAttempts = nodes.DefaultMaxSQLAttempts
	}
	maxSteps := 16 + maxAttempts*4

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
