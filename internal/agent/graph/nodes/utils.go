package nodes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/faturai/server/internal/agent/model"
	logx "github.com/faturai/server/pkg/logger"
)

const DefaultMaxSQLAttempts = 3

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMaxAttempts returns a sane default when the provided value is invalid.
func normalizeMaxAttempts(n int) int {
	if n <= 0 {
		return DefaultMaxSQLAttempts
	}
	return n
}

// attemptsExhausted reports whether another generation attempt would exceed
// the limit.
func attemptsExhausted(attempts, max int) bool {
	return attempts >= normalizeMaxAttempts(max)
}

// applyUsageCost computes and logs the cost of one model call, accumulating
// the total into state and exposing the breakdown in the message Extra.
func applyUsageCost(state *model.AgentState, out *schema.Message, modelName, nodeName string) {
	if !model.CostEnabled() || out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}

	pricing := model.ResolvePricing(modelName)
	inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     out.ResponseMeta.Usage.PromptTokens,
		"completion_tokens": out.ResponseMeta.Usage.CompletionTokens,
		"total_tokens":      out.ResponseMeta.Usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}

	logx.Debug().
		Str("conversation_id", state.ConversationID).
		Str("node", nodeName).
		Str("model", modelName).
		Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
		Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
		Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")

	state.TotalCostUSD += totalC
	out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
}

// schemaContext flattens the discovered table schemas into one prompt block,
// in stable table-name order.
func schemaContext(schemas map[string]string) string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "-- Tabela: %s\n%s", name, schemas[name])
	}
	return b.String()
}

// serializeRows renders query result rows as compact JSON for the answer and
// chart prompts.
func serializeRows(rows []map[string]any) string {
	b, err := json.Marshal(rows)
	if err != nil {
		return fmt.Sprintf("%v", rows)
	}
	return string(b)
}

// stripSQLFences removes a surrounding markdown code fence that models often
// wrap generated SQL in.
func stripSQLFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && strings.EqualFold(strings.TrimSpace(s[:idx]), "sql") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// hasSelectPrefix reports whether the text begins with SELECT. Full
// validation happens later in the checker.
func hasSelectPrefix(s string) bool {
	fields := strings.Fields(s)
	return len(fields) > 0 && strings.EqualFold(fields[0], "SELECT")
}
