package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/faturai/server/internal/agent/graph/conversations"
	"github.com/faturai/server/internal/agent/graph/parsers"
	"github.com/faturai/server/internal/agent/graph/prompts"
	"github.com/faturai/server/internal/agent/model"
	"github.com/faturai/server/internal/database"
	logx "github.com/faturai/server/pkg/logger"
	"github.com/faturai/server/pkg/sqlcheck"
)

// Node names used when wiring the graph.
const (
	NodeIntake          = "Intake"
	NodeClassifyModel   = "ClassifyChatModel"
	NodeClarifyPrompt   = "ClarifyPromptAssembler"
	NodeClarifyModel    = "ClarifyChatModel"
	NodeAwaitInput      = "AwaitUserInput"
	NodeSchemaInspector = "SchemaInspector"
	NodeSQLGenerator    = "SQLGenerator"
	NodeSQLChecker      = "SQLChecker"
	NodeSQLExecutor     = "SQLExecutor"
	NodeAnswerer        = "AnswerSynthesizer"
	NodeChartAdvisor    = "ChartAdvisor"
	NodeFinalizer       = "Finalizer"
	NodeRejection       = "Rejection"
	NodeGiveUp          = "GiveUp"
)

// Fixed user-facing messages (pt-BR).
const (
	MsgRejection = "❌ Desculpe, só posso responder perguntas relacionadas a vendas, produtos ou faturamento de e-commerces."
	MsgGiveUp    = "❌ Desculpe, não consegui gerar uma consulta SQL válida para a sua pergunta. Tente reformulá-la."
	MsgNoAnswer  = "❌ Desculpe, não foi possível obter uma resposta."

	MsgClarifyConfirmed = "✅ Entendi sua pergunta! Vou processá-la."
	MsgInspectingSchema = "🔍 Obtendo informações das tabelas relevantes..."
	MsgValidatingSQL    = "🔎 Validando a query SQL..."
	MsgExecutingSQL     = "⏳ Executando a query no banco de dados..."
	MsgSQLValidated     = "✅ Query SQL validada com sucesso!"
	MsgSQLExecuted      = "✅ Consulta SQL executada com sucesso."

	MsgChartTooFewRows = "Os dados retornados são insuficientes para uma visualização significativa."
)

// Internal error sentinels fed back into the retry loop (pt-BR, matching the
// tone of the database error strings the model also sees).
const (
	errNoSchemaAvailable = "Erro: Nenhuma informação de tabela disponível."
)

// NewIntakePreHandler initializes per-run state from the incoming turn.
func NewIntakePreHandler() func(context.Context, model.QueryInput, *model.AgentState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.AgentState) (model.QueryInput, error) {
		s.ConversationID = in.ConversationID
		s.RawQuery = in.Query
		s.Question = in.Query
		s.ResumeToken = in.ResumeToken
		s.Resumed = in.ResumeToken != ""
		s.SQLAttempts = 0
		s.TotalCostUSD = 0
		s.AppendTranscript(schema.UserMessage(in.Query))
		return in, nil
	}
}

// NewIntakeNode records the user turn and prepares the classification request.
// When the turn resumes a suspended clarification, it restores the checkpoint
// into state; an unknown token falls back to a fresh run.
func NewIntakeNode(
	mm *conversations.MessagesManager,
	repo model.ConversationRepository,
) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.QueryInput) ([]*schema.Message, error) {
		conversationID := input.ConversationID

		if input.ResumeToken != "" {
			cp, err := repo.LoadCheckpoint(ctx, input.ResumeToken)
			if err != nil {
				return nil, fmt.Errorf("load checkpoint: %w", err)
			}
			stateErr := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
				if cp == nil {
					logx.Warn().
						Str("resume_token", input.ResumeToken).
						Msg("Unknown or expired resume token - treating as fresh turn")
					state.Resumed = false
					state.ResumeToken = ""
					return nil
				}
				state.ClarifyTurns = cp.ClarifyTurns
				if state.ConversationID == "" {
					state.ConversationID = cp.ConversationID
				}
				conversationID = state.ConversationID
				return nil
			})
			if stateErr != nil {
				return nil, fmt.Errorf("failed to access state: %w", stateErr)
			}
		}

		if err := mm.AppendUserMessage(ctx, conversationID, input.Query); err != nil {
			return nil, fmt.Errorf("append user message: %w", err)
		}

		return prompts.RenderClassify(ctx, input.Query)
	})
}

// NewIntakeCondition routes resumed turns straight back into the
// clarification dialogue, skipping re-classification.
func NewIntakeCondition() func(context.Context, []*schema.Message) (string, error) {
	return func(ctx context.Context, _ []*schema.Message) (string, error) {
		var resumed bool
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			resumed = state.Resumed
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		if resumed {
			return NodeClarifyPrompt, nil
		}
		return NodeClassifyModel, nil
	}
}

// NewClassifyModelPostHandler interprets the SIM/NÃO verdict and stores it in
// state. Anything other than SIM counts as irrelevant.
func NewClassifyModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AgentState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AgentState) (*schema.Message, error) {
		applyUsageCost(state, out, modelName, NodeClassifyModel)

		verdict := strings.TrimSpace(out.Content)
		relevant := strings.EqualFold(verdict, "SIM")
		state.IsValidQuery = &relevant
		state.AppendTranscript(out)

		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("verdict", verdict).
			Bool("relevant", relevant).
			Msg("Classification gate evaluated")

		return out, nil
	}
}

// NewClassifyCondition routes relevant questions into the clarification
// dialogue and everything else to the rejection terminal.
func NewClassifyCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		var relevant bool
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			relevant = state.IsValidQuery != nil && *state.IsValidQuery
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		if relevant {
			return NodeClarifyPrompt, nil
		}
		return NodeRejection, nil
	}
}

// NewClarifyPromptNode assembles the clarifier context: the fixed system
// prompt plus the persisted conversation history, so the model sees its own
// earlier refinement questions across suspensions.
func NewClarifyPromptNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ any) ([]*schema.Message, error) {
		var conversationID string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			conversationID = state.ConversationID
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		return mm.BuildClarifyContext(ctx, conversationID, prompts.ClarifySystemPrompt())
	})
}

// NewClarifyModelPostHandler parses the clarifier reply. A well-formed
// relevant payload promotes the refined question to canonical; a well-formed
// irrelevant payload flips the validity verdict; anything else is another
// conversational turn.
func NewClarifyModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AgentState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AgentState) (*schema.Message, error) {
		applyUsageCost(state, out, modelName, NodeClarifyModel)
		state.AppendTranscript(out)

		payload, ok := parsers.ParseClarifyPayload(out.Content)
		if !ok {
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Msg("Clarifier produced a conversational turn")
			return out, nil
		}

		if !payload.IsRelevant {
			irrelevant := false
			state.IsValidQuery = &irrelevant
			return out, nil
		}

		state.Question = payload.UserQuery
		state.ClarifyReady = true
		state.AppendTranscript(schema.AssistantMessage(MsgClarifyConfirmed, nil))
		return out, nil
	}
}

// NewClarifyCondition routes a confirmed question forward, an irrelevant one
// to rejection, and everything else into suspension - unless the turn budget
// is spent, in which case the conversation is rejected instead of suspending
// forever.
func NewClarifyCondition(maxTurns int) func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		var next string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			switch {
			case state.ClarifyReady:
				next = NodeSchemaInspector
			case state.IsValidQuery != nil && !*state.IsValidQuery:
				next = NodeRejection
			case state.ClarifyTurns >= maxTurns:
				logx.Debug().
					Str("conversation_id", state.ConversationID).
					Int("clarify_turns", state.ClarifyTurns).
					Msg("Clarification turn budget exhausted - rejecting")
				next = NodeRejection
			default:
				next = NodeAwaitInput
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		return next, nil
	}
}

// NewAwaitInputNode suspends the run: it persists a checkpoint under a resume
// token, saves the clarifier's question to the conversation, and terminates
// with an awaiting-input output carrying the token.
func NewAwaitInputNode(
	mm *conversations.MessagesManager,
	repo model.ConversationRepository,
) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*model.QueryOutput, error) {
		reply := strings.TrimSpace(in.Content)

		var out *model.QueryOutput
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			token := state.ResumeToken
			if token == "" {
				token = uuid.NewString()
			}

			cp := &model.Checkpoint{
				ConversationID: state.ConversationID,
				ClarifyTurns:   state.ClarifyTurns + 1,
				CreatedAt:      time.Now().UTC(),
			}
			if err := repo.SaveCheckpoint(ctx, token, cp); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}

			if err := mm.SaveAssistantReply(ctx, state.ConversationID, reply); err != nil {
				logx.Error().
					Str("conversation_id", state.ConversationID).
					Err(err).
					Msg("Error saving clarifier reply")
			}

			out = &model.QueryOutput{
				Status:      model.StatusAwaitingInput,
				Answer:      reply,
				ResumeToken: token,
				Transcript:  state.Transcript,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// NewSchemaInspectorNode discovers the schema of every configured table. A
// table whose description fails gets an error sentinel instead of failing the
// run, so the generator can still work with the tables that resolved.
func NewSchemaInspectorNode(gateway database.Gateway, tables []string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (map[string]string, error) {
		schemas := make(map[string]string, len(tables))
		for _, table := range tables {
			ddl, err := gateway.DescribeTable(ctx, table)
			if err != nil {
				logx.Warn().
					Str("table", table).
					Err(err).
					Msg("Failed to describe table")
				ddl = fmt.Sprintf("Erro ao obter esquema: %v", err)
			}
			schemas[table] = ddl
		}

		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			state.TableSchemas = schemas
			state.AppendTranscript(schema.AssistantMessage(MsgInspectingSchema, nil))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		return schemas, nil
	})
}

// NewSQLGeneratorNode produces one SQL draft per attempt. The first attempt
// renders the full generation prompt; retries append only a corrective turn
// referencing the last error, so the model keeps its earlier context.
func NewSQLGeneratorNode(cms *ChatModels, pipeline *model.PipelineConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ any) (model.SQLDraft, error) {
		var draft model.SQLDraft
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			state.SQLAttempts++

			if len(state.TableSchemas) == 0 {
				draft.Err = errNoSchemaAvailable
				return nil
			}

			if state.RetryGenerate && state.QueryError != "" {
				state.AppendTranscript(schema.UserMessage(fmt.Sprintf(
					"Sua query retornou com esse erro: %s. Por favor, corrija-a.", state.QueryError,
				)))
			} else {
				msgs, err := prompts.RenderSQL(ctx, schemaContext(state.TableSchemas), state.Question, pipeline.RowLimit)
				if err != nil {
					return fmt.Errorf("render sql prompt: %w", err)
				}
				state.AppendTranscript(msgs...)
			}

			out, err := cms.SQL.Generate(ctx, state.Transcript)
			if err != nil {
				return fmt.Errorf("generate sql: %w", err)
			}
			applyUsageCost(state, out, cms.SQLModelName, NodeSQLGenerator)
			state.AppendTranscript(out)

			raw := stripSQLFences(out.Content)
			if !hasSelectPrefix(raw) {
				draft.Err = fmt.Sprintf("Erro: A query gerada não é válida.\nQuery: %s", raw)
				return nil
			}

			draft.Query = raw
			state.SQLQuery = raw
			state.QueryError = ""
			state.RetryGenerate = false
			return nil
		})
		if err != nil {
			return model.SQLDraft{}, err
		}
		return draft, nil
	})
}

// NewSQLCheckerNode validates the draft without touching the database:
// SELECT-only, single statement, no forbidden keywords, no injection
// signatures. Failures are fed back into the retry loop, never raised.
func NewSQLCheckerNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, draft model.SQLDraft) (model.SQLDraft, error) {
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			state.AppendTranscript(schema.AssistantMessage(MsgValidatingSQL, nil))

			if draft.Err != "" {
				state.SQLError = draft.Err
				state.QueryError = draft.Err
				state.RetryGenerate = true
				state.AppendTranscript(schema.AssistantMessage(
					fmt.Sprintf("❌ Erro na validação da query: %s", draft.Err), nil,
				))
				return nil
			}

			res := sqlcheck.Check(draft.Query)
			if !res.OK() {
				state.SQLError = res.Err.Error()
				state.QueryError = "ERROR: " + res.Err.Error()
				state.RetryGenerate = true
				state.AppendTranscript(schema.AssistantMessage(
					fmt.Sprintf("❌ Erro na validação da query: %s", res.Err), nil,
				))
				return nil
			}

			draft.Query = res.NormalizedSQL
			state.SQLQuery = res.NormalizedSQL
			state.SQLError = ""
			state.RetryGenerate = false
			state.AppendTranscript(schema.AssistantMessage(MsgSQLValidated, nil))
			return nil
		})
		if err != nil {
			return model.SQLDraft{}, fmt.Errorf("failed to access state: %w", err)
		}
		return draft, nil
	})
}

// NewSQLRetryCondition routes a failed validation back to the generator while
// attempts remain, to the give-up terminal once they are spent, and a valid
// draft to the executor.
func NewSQLRetryCondition(maxAttempts int) func(context.Context, model.SQLDraft) (string, error) {
	return func(ctx context.Context, _ model.SQLDraft) (string, error) {
		var next string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			switch {
			case !state.RetryGenerate:
				next = NodeSQLExecutor
			case attemptsExhausted(state.SQLAttempts, maxAttempts):
				next = NodeGiveUp
			default:
				next = NodeSQLGenerator
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		return next, nil
	}
}

// NewSQLExecutorNode runs the validated query. Database errors (bad column,
// type mismatch, ...) come back as a result-level error string and feed the
// retry loop; connectivity failures abort the run.
func NewSQLExecutorNode(gateway database.Gateway) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, draft model.SQLDraft) (model.ExecutionOutcome, error) {
		var outcome model.ExecutionOutcome
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			state.AppendTranscript(schema.AssistantMessage(MsgExecutingSQL, nil))

			res, err := gateway.Query(ctx, draft.Query)
			if err != nil {
				return fmt.Errorf("execute query: %w", err)
			}

			if res.Failed() {
				state.QueryError = res.Err
				state.RetryGenerate = true
				state.AppendTranscript(schema.AssistantMessage(
					fmt.Sprintf("❌ Erro na execução da query: %s", res.Err), nil,
				))
				outcome.Err = res.Err
				return nil
			}

			state.Rows = res.Rows
			state.QueryError = ""
			state.RetryGenerate = false
			state.AppendTranscript(schema.AssistantMessage(MsgSQLExecuted, nil))
			outcome.Rows = res.Rows
			return nil
		})
		if err != nil {
			return model.ExecutionOutcome{}, err
		}
		return outcome, nil
	})
}

// NewExecutorCondition mirrors the retry condition for execution failures.
func NewExecutorCondition(maxAttempts int) func(context.Context, model.ExecutionOutcome) (string, error) {
	return func(ctx context.Context, _ model.ExecutionOutcome) (string, error) {
		var next string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AgentState) error {
			switch {
			case !state.RetryGenerate:
				next = NodeAnswerer
			case attemptsExhausted(state.SQLAttempts, maxAttempts):
				next = NodeGiveUp
			default:
				next = NodeSQLGenerator
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		return next, nil
	}
}

// NewAnswererNode synthesizes the natural-language answer from the executed
// query's rows. An empty result set gets a fixed apology without a model call.
func NewAnswererNode(cms *ChatModels, mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, outcome model.ExecutionOutcome) (*schema.Message, error) {
		var reply *schema.Message
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			if len(outcome.Rows) == 0 {
				state.FinalAnswer = MsgNoAnswer
			} else {
				msgs, err := prompts.RenderAnswer(ctx, state.Question, state.SQLQuery, serializeRows(outcome.Rows))
				if err != nil {
					return fmt.Errorf("render answer prompt: %w", err)
				}
				out, err := cms.Answer.Generate(ctx, msgs)
				if err != nil {
					return fmt.Errorf("generate answer: %w", err)
				}
				applyUsageCost(state, out, cms.AnswerModelName, NodeAnswerer)
				state.FinalAnswer = strings.TrimSpace(out.Content)
			}

			reply = schema.AssistantMessage(state.FinalAnswer, nil)
			state.AppendTranscript(reply)

			if err := mm.SaveAssistantReply(ctx, state.ConversationID, state.FinalAnswer); err != nil {
				logx.Error().
					Str("conversation_id", state.ConversationID).
					Err(err).
					Msg("Error saving final answer")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return reply, nil
	})
}

// NewChartAdvisorNode recommends a visualization for the result set. Fewer
// than three rows never justify a chart, so the model is skipped; a malformed
// recommendation degrades to none rather than failing an answered run.
func NewChartAdvisorNode(cms *ChatModels) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (model.ChartAdvice, error) {
		var advice model.ChartAdvice
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			if len(state.Rows) < 3 {
				advice = model.ChartAdvice{Kind: "none", Reason: MsgChartTooFewRows}
			} else {
				msgs, err := prompts.RenderChart(ctx, state.Question, state.SQLQuery, serializeRows(state.Rows))
				if err != nil {
					return fmt.Errorf("render chart prompt: %w", err)
				}
				out, err := cms.Answer.Generate(ctx, msgs)
				if err != nil {
					return fmt.Errorf("generate chart advice: %w", err)
				}
				applyUsageCost(state, out, cms.AnswerModelName, NodeChartAdvisor)

				kind, reason := parsers.ParseChartAdvice(out.Content)
				advice = model.ChartAdvice{Kind: kind, Reason: reason}
			}

			state.Chart = advice.Kind
			state.ChartReason = advice.Reason
			return nil
		})
		if err != nil {
			return model.ChartAdvice{}, err
		}
		return advice, nil
	})
}

// NewFinalizerNode assembles the answered terminal output and discards the
// resume checkpoint if this run came from a suspension.
func NewFinalizerNode(repo model.ConversationRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, advice model.ChartAdvice) (*model.QueryOutput, error) {
		var out *model.QueryOutput
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			if state.ResumeToken != "" {
				if err := repo.DeleteCheckpoint(ctx, state.ResumeToken); err != nil {
					logx.Error().
						Str("resume_token", state.ResumeToken).
						Err(err).
						Msg("Error deleting checkpoint")
				}
			}

			out = &model.QueryOutput{
				Status:      model.StatusAnswered,
				Answer:      state.FinalAnswer,
				Chart:       advice.Kind,
				ChartReason: advice.Reason,
				SQLQuery:    state.SQLQuery,
				Transcript:  state.Transcript,
			}

			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Float64("total_cost_usd", state.TotalCostUSD).
				Int("sql_attempts", state.SQLAttempts).
				Msg("Pipeline run answered")
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// NewRejectionNode terminates a run whose question is out of scope.
func NewRejectionNode(
	mm *conversations.MessagesManager,
	repo model.ConversationRepository,
) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (*model.QueryOutput, error) {
		var out *model.QueryOutput
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			if state.ResumeToken != "" {
				if err := repo.DeleteCheckpoint(ctx, state.ResumeToken); err != nil {
					logx.Error().
						Str("resume_token", state.ResumeToken).
						Err(err).
						Msg("Error deleting checkpoint")
				}
			}

			state.AppendTranscript(schema.AssistantMessage(MsgRejection, nil))
			if err := mm.SaveAssistantReply(ctx, state.ConversationID, MsgRejection); err != nil {
				logx.Error().
					Str("conversation_id", state.ConversationID).
					Err(err).
					Msg("Error saving rejection reply")
			}

			out = &model.QueryOutput{
				Status:     model.StatusRejected,
				Answer:     MsgRejection,
				Transcript: state.Transcript,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// NewGiveUpNode terminates a run whose SQL attempts are exhausted.
func NewGiveUpNode(
	mm *conversations.MessagesManager,
	repo model.ConversationRepository,
) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ any) (*model.QueryOutput, error) {
		var out *model.QueryOutput
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AgentState) error {
			if state.ResumeToken != "" {
				if err := repo.DeleteCheckpoint(ctx, state.ResumeToken); err != nil {
					logx.Error().
						Str("resume_token", state.ResumeToken).
						Err(err).
						Msg("Error deleting checkpoint")
				}
			}

			state.AppendTranscript(schema.AssistantMessage(MsgGiveUp, nil))
			if err := mm.SaveAssistantReply(ctx, state.ConversationID, MsgGiveUp); err != nil {
				logx.Error().
					Str("conversation_id", state.ConversationID).
					Err(err).
					Msg("Error saving give-up reply")
			}

			logx.Warn().
				Str("conversation_id", state.ConversationID).
				Int("sql_attempts", state.SQLAttempts).
				Str("last_error", state.QueryError).
				Msg("SQL attempt budget exhausted")

			out = &model.QueryOutput{
				Status:     model.StatusFailed,
				Answer:     MsgGiveUp,
				SQLQuery:   state.SQLQuery,
				Transcript: state.Transcript,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}
