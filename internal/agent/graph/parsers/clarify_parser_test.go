package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClarifyPayloadRelevant(t *testing.T) {
	payload, ok := ParseClarifyPayload(`{"is_relevant": true, "user_query": "Qual foi o faturamento total da loja no último mês?"}`)

	require.True(t, ok)
	assert.True(t, payload.IsRelevant)
	assert.Equal(t, "Qual foi o faturamento total da loja no último mês?", payload.UserQuery)
}

func TestParseClarifyPayloadIrrelevant(t *testing.T) {
	payload, ok := ParseClarifyPayload(`{"is_relevant": false, "user_query": ""}`)

	require.True(t, ok)
	assert.False(t, payload.IsRelevant)
}

func TestParseClarifyPayloadTrimsWhitespace(t *testing.T) {
	payload, ok := ParseClarifyPayload("\n  {\"is_relevant\": true, \"user_query\": \"Quantos pedidos foram feitos hoje?\"}  \n")

	require.True(t, ok)
	assert.Equal(t, "Quantos pedidos foram feitos hoje?", payload.UserQuery)
}

func TestParseClarifyPayloadConversationalTurn(t *testing.T) {
	_, ok := ParseClarifyPayload("Olá! Sou um assistente de análise de vendas. Como posso ajudar?")

	assert.False(t, ok)
}

func TestParseClarifyPayloadProseAroundJSON(t *testing.T) {
	_, ok := ParseClarifyPayload(`Aqui está: {"is_relevant": true, "user_query": "faturamento"}`)

	assert.False(t, ok)
}

func TestParseClarifyPayloadUnknownField(t *testing.T) {
	_, ok := ParseClarifyPayload(`{"is_relevant": true, "user_query": "faturamento", "confidence": 0.9}`)

	assert.False(t, ok)
}

func TestParseClarifyPayloadRelevantWithoutQuery(t *testing.T) {
	_, ok := ParseClarifyPayload(`{"is_relevant": true, "user_query": "  "}`)

	assert.False(t, ok)
}

func TestParseClarifyPayloadMalformedJSON(t *testing.T) {
	_, ok := ParseClarifyPayload(`{"is_relevant": true, "user_query": }`)

	assert.False(t, ok)
}
