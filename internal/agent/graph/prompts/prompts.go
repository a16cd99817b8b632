// Package prompts holds the prompt templates used by the pipeline graph and
// the render helpers that turn pipeline state into chat messages.
package prompts

import (
	"context"
	_ "embed"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/classify_prompt.txt
var classifyPromptTemplate string

//go:embed template/clarify_prompt.txt
var clarifyPromptTemplate string

//go:embed template/sql_prompt.txt
var sqlPromptTemplate string

//go:embed template/answer_prompt.txt
var answerPromptTemplate string

//go:embed template/chart_prompt.txt
var chartPromptTemplate string

// RenderClassify builds the single-turn relevance check for a raw question.
func RenderClassify(ctx context.Context, question string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.UserMessage(classifyPromptTemplate),
	)

	return tpl.Format(ctx, map[string]any{
		"Question": question,
	})
}

// ClarifySystemPrompt returns the fixed system prompt for the clarification
// dialogue. The template carries a literal JSON example, so it is not run
// through a formatter.
func ClarifySystemPrompt() string {
	return clarifyPromptTemplate
}

// RenderSQL builds the SQL generation request from the discovered schemas and
// the clarified question.
func RenderSQL(ctx context.Context, schemaContext, question string, rowLimit int) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.UserMessage(sqlPromptTemplate),
	)

	return tpl.Format(ctx, map[string]any{
		"SchemaContext": schemaContext,
		"Question":      question,
		"RowLimit":      rowLimit,
	})
}

// RenderAnswer builds the answer synthesis request from the executed query and
// its serialized result rows.
func RenderAnswer(ctx context.Context, question, sqlQuery, queryResult string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.UserMessage(answerPromptTemplate),
	)

	return tpl.Format(ctx, map[string]any{
		"Question":    question,
		"SQLQuery":    sqlQuery,
		"QueryResult": queryResult,
	})
}

// RenderChart builds the visualization recommendation request.
func RenderChart(ctx context.Context, question, sqlQuery, queryResult string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.UserMessage(chartPromptTemplate),
	)

	return tpl.Format(ctx, map[string]any{
		"Question":    question,
		"SQLQuery":    sqlQuery,
		"QueryResult": queryResult,
	})
}
