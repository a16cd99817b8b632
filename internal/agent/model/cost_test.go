package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestComputeCost(t *testing.T) {
	p := ResolvePricing("gemini-2.5-flash")

	in, out, total := ComputeCost(&schema.TokenUsage{
		PromptTokens:     1_000_000,
		CompletionTokens: 2_000_000,
	}, p)

	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 5.00, out, 1e-9)
	assert.InDelta(t, 5.30, total, 1e-9)
}

func TestComputeCostNilUsage(t *testing.T) {
	in, out, total := ComputeCost(nil, ResolvePricing("gemini-2.5-flash"))
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Zero(t, total)
}

func TestResolvePricingUnknownModel(t *testing.T) {
	assert.Equal(t, Pricing{}, ResolvePricing("some-unknown-model"))
}
