package model

import (
	"github.com/cloudwego/eino/schema"
)

// AgentState stores per-invocation state for the Eino graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex is required as long as you never touch it outside handlers.
//   - Each conversation invocation owns its own AgentState; persistence across
//     suspensions goes through the ConversationRepository, never this struct.
type AgentState struct {
	ConversationID string
	Question       string // canonical user question once confirmed
	RawQuery       string // the question text as it arrived
	ResumeToken    string // set when this run resumes a suspended clarification

	IsValidQuery *bool // nil until the classification gate has run
	Resumed      bool
	ClarifyReady bool // clarifier emitted a well-formed, relevant payload
	ClarifyTurns int  // suspensions consumed so far (loaded from checkpoint)

	TableSchemas map[string]string

	SQLQuery      string
	SQLError      string // last validation verdict, audit trail only
	QueryError    string // last error shown to the model on the next attempt
	RetryGenerate bool
	SQLAttempts   int

	Rows        []map[string]any
	FinalAnswer string
	Chart       string
	ChartReason string

	// Transcript is the audit log and the context window for the SQL
	// generation loop. Mutated only inside Eino state handlers and
	// compose.ProcessState closures.
	Transcript []*schema.Message

	// Accumulated total LLM cost (USD) across model invocations for this run.
	TotalCostUSD float64
}

// AppendTranscript adds messages to the audit log.
func (s *AgentState) AppendTranscript(msgs ...*schema.Message) {
	s.Transcript = append(s.Transcript, msgs...)
}

// QueryInput represents one user turn entering the pipeline. ResumeToken is
// only set when continuing a conversation that suspended for clarification.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	ResumeToken    string `json:"resume_token,omitempty"`
}

// Status describes how a pipeline run terminated.
type Status string

const (
	StatusAnswered      Status = "answered"
	StatusRejected      Status = "rejected"
	StatusAwaitingInput Status = "awaiting_input"
	StatusFailed        Status = "failed"
)

// QueryOutput is the terminal result of one pipeline run.
type QueryOutput struct {
	Status      Status            `json:"status"`
	Answer      string            `json:"answer"`
	Chart       string            `json:"chart,omitempty"`
	ChartReason string            `json:"chart_reason,omitempty"`
	SQLQuery    string            `json:"sql_query,omitempty"`
	ResumeToken string            `json:"resume_token,omitempty"`
	Transcript  []*schema.Message `json:"transcript,omitempty"`
}

// SQLDraft is the outcome of one generation attempt. Err carries the
// structural error sentinel when the model produced something other than a
// SELECT statement (or no schema was available); Query is set otherwise.
type SQLDraft struct {
	Query string
	Err   string
}

// ExecutionOutcome is the outcome of executing a validated query.
type ExecutionOutcome struct {
	Rows []map[string]any
	Err  string
}

// ChartAdvice is the parsed visualization recommendation. Kind is one of the
// chart type names accepted by the advisor prompt ("none" when no chart fits).
type ChartAdvice struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}
