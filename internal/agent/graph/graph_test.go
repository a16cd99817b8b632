package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/compose"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faturai/server/internal/agent/graph/conversations"
	"github.com/faturai/server/internal/agent/graph/nodes"
	"github.com/faturai/server/internal/agent/model"
	"github.com/faturai/server/internal/database"
)

// ===== scripted chat model =====

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   [][]*schema.Message
}

func newScriptedModel(replies ...string) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Generate(_ context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*schema.Message, len(msgs))
	copy(copied, msgs)
	m.calls = append(m.calls, copied)

	if len(m.replies) == 0 {
		return nil, errors.New("scripted model: no reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return schema.AssistantMessage(reply, nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("scripted model: streaming not supported")
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) call(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// ===== fake database gateway =====

type fakeGateway struct {
	mu          sync.Mutex
	schemas     map[string]string
	describeErr map[string]error
	results     []database.QueryResult
	queries     []string
}

func (g *fakeGateway) Query(_ context.Context, sqlQuery string) (database.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, sqlQuery)
	if len(g.results) == 0 {
		return database.QueryResult{}, errors.New("fake gateway: no result left")
	}
	res := g.results[0]
	g.results = g.results[1:]
	return res, nil
}

func (g *fakeGateway) DescribeTable(_ context.Context, table string) (string, error) {
	if err, ok := g.describeErr[table]; ok {
		return "", err
	}
	ddl, ok := g.schemas[table]
	if !ok {
		return "", errors.New("table not found")
	}
	return ddl, nil
}

func (g *fakeGateway) ListTables(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(g.schemas))
	for name := range g.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (g *fakeGateway) Close() {}

func (g *fakeGateway) executedQueries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

// ===== in-memory conversation repository =====

type memoryRepo struct {
	mu          sync.Mutex
	messages    map[string][]*schema.Message
	checkpoints map[string]*model.Checkpoint
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		messages:    map[string][]*schema.Message{},
		checkpoints: map[string]*model.Checkpoint{},
	}
}

func (r *memoryRepo) AddMessage(_ context.Context, conversationID string, message *schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[conversationID] = append(r.messages[conversationID], message)
	return nil
}

func (r *memoryRepo) LoadHistory(_ context.Context, conversationID string) (*model.ConversationHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.ConversationHistory{
		ConversationID: conversationID,
		Messages:       append([]*schema.Message(nil), r.messages[conversationID]...),
	}, nil
}

func (r *memoryRepo) ClearHistory(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	return nil
}

func (r *memoryRepo) GetMessageCount(_ context.Context, conversationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[conversationID]), nil
}

func (r *memoryRepo) SaveCheckpoint(_ context.Context, token string, cp *model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[token] = cp
	return nil
}

func (r *memoryRepo) LoadCheckpoint(_ context.Context, token string) (*model.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpoints[token], nil
}

func (r *memoryRepo) DeleteCheckpoint(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, token)
	return nil
}

func (r *memoryRepo) checkpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.checkpoints)
}

// ===== harness =====

type testPipeline struct {
	classifier *scriptedModel
	sqlModel   *scriptedModel
	answer     *scriptedModel
	gateway    *fakeGateway
	repo       *memoryRepo
	runnable   compose.Runnable[model.QueryInput, *model.QueryOutput]
}

func defaultGateway() *fakeGateway {
	return &fakeGateway{
		schemas: map[string]string{
			"orders_ia":       "CREATE TABLE orders_ia (\n  order_id text NOT NULL,\n  total numeric NULL,\n  created_at timestamp NULL\n);",
			"orders_items_ia": "CREATE TABLE orders_items_ia (\n  order_id text NOT NULL,\n  product text NULL,\n  quantity integer NULL\n);",
		},
	}
}

func buildTestPipeline(t *testing.T, p *testPipeline, clarifyMaxTurns int) {
	t.Helper()

	if p.gateway == nil {
		p.gateway = defaultGateway()
	}
	if p.repo == nil {
		p.repo = newMemoryRepo()
	}

	cms := &nodes.ChatModels{
		Classifier:          p.classifier,
		SQL:                 p.sqlModel,
		Answer:              p.answer,
		ClassifierModelName: "classifier-test",
		SQLModelName:        "sql-test",
		AnswerModelName:     "answer-test",
	}

	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		ChatModels:       cms,
		MessagesManager:  conversations.NewMessagesManager(p.repo),
		ConversationRepo: p.repo,
		Gateway:          p.gateway,
		Pipeline: &model.PipelineConfig{
			Tables:         []string{"orders_ia", "orders_items_ia"},
			MaxSQLAttempts: 3,
			RowLimit:       5,
		},
		ClarifyMaxTurns: clarifyMaxTurns,
	})
	require.NoError(t, err)
	p.runnable = runnable
}

func invoke(t *testing.T, p *testPipeline, in model.QueryInput) *model.QueryOutput {
	t.Helper()
	out, err := p.runnable.Invoke(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

const clarifyConfirm = `{"is_relevant": true, "user_query": "Qual foi o faturamento total da loja no último mês?"}`

func rows(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"product": "item", "total": float64(i + 1)}
	}
	return out
}

// ===== scenarios =====

func TestPipelineRejectsOffTopicQuestion(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("NÃO"),
		sqlModel:   newScriptedModel(),
		answer:     newScriptedModel(),
	}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-1",
		Query:          "Qual o clima em São Paulo hoje?",
	})

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, nodes.MsgRejection, out.Answer)
	assert.Empty(t, out.ResumeToken)
	assert.Zero(t, p.sqlModel.callCount())
	assert.Zero(t, p.answer.callCount())

	// user turn plus rejection reply are persisted
	count, err := p.repo.GetMessageCount(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipelineAnswersWithChart(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel: newScriptedModel(
			"```sql\nSELECT product, SUM(total) AS total FROM orders_items_ia GROUP BY product ORDER BY total DESC LIMIT 5\n```",
		),
		answer: newScriptedModel(
			clarifyConfirm,
			"O faturamento total foi de R$ 1.234,56.",
			"Recommended Visualization: bar\nReason: Comparing totals across discrete products.",
		),
	}
	p.gateway = defaultGateway()
	p.gateway.results = []database.QueryResult{{Rows: rows(4)}}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-2",
		Query:          "Qual foi o faturamento da loja no último mês?",
	})

	assert.Equal(t, model.StatusAnswered, out.Status)
	assert.Equal(t, "O faturamento total foi de R$ 1.234,56.", out.Answer)
	assert.Equal(t, "bar", out.Chart)
	assert.NotEmpty(t, out.ChartReason)

	// the markdown fence is stripped before validation and execution
	executed := p.gateway.executedQueries()
	require.Len(t, executed, 1)
	assert.Equal(t, "SELECT product, SUM(total) AS total FROM orders_items_ia GROUP BY product ORDER BY total DESC LIMIT 5", executed[0])
	assert.Equal(t, executed[0], out.SQLQuery)

	// the generation prompt carried both table schemas
	require.GreaterOrEqual(t, p.sqlModel.callCount(), 1)
	prompt := lastContent(p.sqlModel.call(0))
	assert.Contains(t, prompt, "orders_ia")
	assert.Contains(t, prompt, "orders_items_ia")
}

func TestPipelineSuspendsAndResumes(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel:   newScriptedModel("SELECT SUM(total) AS total FROM orders_ia WHERE created_at >= CURRENT_DATE - 30 LIMIT 5"),
		answer: newScriptedModel(
			"Você quer o faturamento de qual período?",
			clarifyConfirm,
			"O faturamento do último mês foi de R$ 500,00.",
		),
	}
	p.gateway = defaultGateway()
	p.gateway.results = []database.QueryResult{{Rows: rows(1)}}
	buildTestPipeline(t, p, 3)

	suspended := invoke(t, p, model.QueryInput{
		ConversationID: "conv-3",
		Query:          "Me fala sobre as vendas",
	})

	assert.Equal(t, model.StatusAwaitingInput, suspended.Status)
	assert.Equal(t, "Você quer o faturamento de qual período?", suspended.Answer)
	require.NotEmpty(t, suspended.ResumeToken)
	assert.Equal(t, 1, p.repo.checkpointCount())

	cp, err := p.repo.LoadCheckpoint(context.Background(), suspended.ResumeToken)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "conv-3", cp.ConversationID)
	assert.Equal(t, 1, cp.ClarifyTurns)

	answered := invoke(t, p, model.QueryInput{
		ConversationID: "conv-3",
		Query:          "Quero o total do último mês.",
		ResumeToken:    suspended.ResumeToken,
	})

	assert.Equal(t, model.StatusAnswered, answered.Status)
	assert.Equal(t, "O faturamento do último mês foi de R$ 500,00.", answered.Answer)

	// a single row is not enough for a chart, and no advisor call happens
	assert.Equal(t, "none", answered.Chart)
	assert.Equal(t, nodes.MsgChartTooFewRows, answered.ChartReason)

	// the resumed run skips re-classification entirely
	assert.Equal(t, 1, p.classifier.callCount())

	// checkpoint is discarded on completion
	assert.Zero(t, p.repo.checkpointCount())
}

func TestPipelineRetriesInvalidSQL(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel: newScriptedModel(
			"UPDATE orders_ia SET total = 0",
			"SELECT SUM(total) AS total FROM orders_ia LIMIT 5",
		),
		answer: newScriptedModel(
			clarifyConfirm,
			"O total é R$ 100,00.",
		),
	}
	p.gateway = defaultGateway()
	p.gateway.results = []database.QueryResult{{Rows: rows(1)}}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-4",
		Query:          "Qual o faturamento total?",
	})

	assert.Equal(t, model.StatusAnswered, out.Status)
	require.Equal(t, 2, p.sqlModel.callCount())

	// the retry turn carries the previous error back to the model
	retryPrompt := lastContent(p.sqlModel.call(1))
	assert.Contains(t, retryPrompt, "Sua query retornou com esse erro")
	assert.Contains(t, retryPrompt, "Por favor, corrija-a.")
}

func TestPipelineGivesUpAfterMaxAttempts(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel: newScriptedModel(
			"DROP TABLE orders_ia",
			"DELETE FROM orders_ia",
			"TRUNCATE orders_ia",
		),
		answer: newScriptedModel(clarifyConfirm),
	}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-5",
		Query:          "Qual o faturamento total?",
	})

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, nodes.MsgGiveUp, out.Answer)
	assert.Equal(t, 3, p.sqlModel.callCount())
	assert.Empty(t, p.gateway.executedQueries())
}

func TestPipelineRetriesExecutionError(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel: newScriptedModel(
			"SELECT totall FROM orders_ia LIMIT 5",
			"SELECT total FROM orders_ia LIMIT 5",
		),
		answer: newScriptedModel(
			clarifyConfirm,
			"O total é R$ 42,00.",
		),
	}
	p.gateway = defaultGateway()
	p.gateway.results = []database.QueryResult{
		{Err: `ERROR: column "totall" does not exist (SQL state: 42703)`},
		{Rows: rows(1)},
	}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-6",
		Query:          "Qual o faturamento total?",
	})

	assert.Equal(t, model.StatusAnswered, out.Status)
	assert.Len(t, p.gateway.executedQueries(), 2)

	// the database error reached the model verbatim on the retry turn
	retryPrompt := lastContent(p.sqlModel.call(1))
	assert.Contains(t, retryPrompt, `column "totall" does not exist`)
	assert.Contains(t, retryPrompt, "42703")
}

func TestPipelineApologizesOnEmptyResult(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel:   newScriptedModel("SELECT total FROM orders_ia WHERE created_at > CURRENT_DATE LIMIT 5"),
		answer:     newScriptedModel(clarifyConfirm),
	}
	p.gateway = defaultGateway()
	p.gateway.results = []database.QueryResult{{Rows: nil}}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-7",
		Query:          "Qual o faturamento de hoje?",
	})

	assert.Equal(t, model.StatusAnswered, out.Status)
	assert.Equal(t, nodes.MsgNoAnswer, out.Answer)
	assert.Equal(t, "none", out.Chart)

	// only the clarifier consumed the answer model
	assert.Equal(t, 1, p.answer.callCount())
}

func TestPipelineRejectsWhenClarifyBudgetSpent(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel:   newScriptedModel(),
		answer: newScriptedModel(
			"Pode detalhar o período?",
			"Ainda não entendi, pode reformular?",
		),
	}
	buildTestPipeline(t, p, 1)

	suspended := invoke(t, p, model.QueryInput{
		ConversationID: "conv-8",
		Query:          "vendas",
	})
	require.Equal(t, model.StatusAwaitingInput, suspended.Status)
	require.NotEmpty(t, suspended.ResumeToken)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-8",
		Query:          "hmm",
		ResumeToken:    suspended.ResumeToken,
	})

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, nodes.MsgRejection, out.Answer)
	assert.Zero(t, p.repo.checkpointCount())
}

func TestPipelineClarifierCanOverruleClassifier(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel:   newScriptedModel(),
		answer:     newScriptedModel(`{"is_relevant": false, "user_query": ""}`),
	}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-9",
		Query:          "Quero falar do clima nas lojas físicas",
	})

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Zero(t, p.sqlModel.callCount())
}

func TestPipelineSurvivesSchemaDiscoveryFailure(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("SIM"),
		sqlModel:   newScriptedModel("SELECT total FROM orders_ia LIMIT 5"),
		answer: newScriptedModel(
			clarifyConfirm,
			"O total é R$ 10,00.",
		),
	}
	p.gateway = defaultGateway()
	p.gateway.describeErr = map[string]error{
		"orders_items_ia": errors.New("connection reset"),
	}
	p.gateway.results = []database.QueryResult{{Rows: rows(1)}}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-10",
		Query:          "Qual o faturamento total?",
	})

	assert.Equal(t, model.StatusAnswered, out.Status)

	// the failing table shows up as an error sentinel in the prompt, the
	// healthy one as its schema
	prompt := lastContent(p.sqlModel.call(0))
	assert.Contains(t, prompt, "Erro ao obter esquema")
	assert.Contains(t, prompt, "CREATE TABLE orders_ia")
}

func TestPipelineUnknownResumeTokenFallsBackToFreshRun(t *testing.T) {
	p := &testPipeline{
		classifier: newScriptedModel("NÃO"),
		sqlModel:   newScriptedModel(),
		answer:     newScriptedModel(),
	}
	buildTestPipeline(t, p, 3)

	out := invoke(t, p, model.QueryInput{
		ConversationID: "conv-11",
		Query:          "Qual o clima hoje?",
		ResumeToken:    "expired-token",
	})

	// classification ran (and rejected) instead of resuming a dead loop
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, 1, p.classifier.callCount())
}

func lastContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}
