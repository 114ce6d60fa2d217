package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

func TestOrchestrator_FirstSuccessWins(t *testing.T) {
	primary := NewMockProvider("openai", "primary answer")
	fallback := NewMockProvider("anthropic", "fallback answer")

	orch := NewOrchestrator(
		WithProvider(primary),
		WithProvider(fallback),
		WithBackoff(time.Millisecond),
	)

	result, attempts, err := orch.Generate(context.Background(), GenerateRequest{
		Primary:   ModelRef{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: []ModelRef{{Provider: "anthropic", Model: "claude-sonnet-4-0"}},
		Prompt:    "hello",
		MaxTokens: 128,
	})

	assert.NoError(t, err)
	assert.Equal(t, "primary answer", result.Content)
	assert.Equal(t, "openai", result.Provider)
	assert.Len(t, attempts, 1)
	assert.Equal(t, 0, fallback.Calls())
}

func TestOrchestrator_FallbackChain(t *testing.T) {
	p1 := NewFailingProvider("openai", errors.KindTransient)
	p2 := NewFailingProvider("anthropic", errors.KindRateLimit)
	p3 := NewMockProvider("cohere", "third time lucky")

	orch := NewOrchestrator(
		WithProvider(p1), WithProvider(p2), WithProvider(p3),
		WithBackoff(time.Millisecond),
	)

	result, attempts, err := orch.Generate(context.Background(), GenerateRequest{
		Primary: ModelRef{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: []ModelRef{
			{Provider: "anthropic", Model: "claude-sonnet-4-0"},
			{Provider: "cohere", Model: "command-r"},
		},
		Prompt:    "hello",
		MaxTokens: 128,
	})

	assert.NoError(t, err)
	assert.Equal(t, "cohere", result.Provider)
	assert.Equal(t, "command-r", result.Model)
	assert.Len(t, attempts, 3)
	assert.Error(t, attempts[0].Err)
	assert.Error(t, attempts[1].Err)
	assert.NoError(t, attempts[2].Err)
	assert.Equal(t, 1, p1.Calls())
	assert.Equal(t, 1, p2.Calls())
	assert.Equal(t, 1, p3.Calls())
}

func TestOrchestrator_AllAttemptsFail(t *testing.T) {
	p1 := NewFailingProvider("openai", errors.KindTransient)
	p2 := NewFailingProvider("anthropic", errors.KindTransient)

	orch := NewOrchestrator(
		WithProvider(p1), WithProvider(p2),
		WithBackoff(time.Millisecond),
	)

	result, attempts, err := orch.Generate(context.Background(), GenerateRequest{
		Primary:   ModelRef{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: []ModelRef{{Provider: "anthropic", Model: "claude-sonnet-4-0"}},
		Prompt:    "hello",
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Len(t, attempts, 2)
}

func TestOrchestrator_SafetyBlockAbortsChain(t *testing.T) {
	p1 := NewFailingProvider("openai", errors.KindSafety)
	p2 := NewMockProvider("anthropic", "should never run")

	orch := NewOrchestrator(
		WithProvider(p1), WithProvider(p2),
		WithBackoff(time.Millisecond),
	)

	result, attempts, err := orch.Generate(context.Background(), GenerateRequest{
		Primary:   ModelRef{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: []ModelRef{{Provider: "anthropic", Model: "claude-sonnet-4-0"}},
		Prompt:    "hello",
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Len(t, attempts, 1)
	assert.Equal(t, 0, p2.Calls())
}

func TestOrchestrator_UnknownProviderFallsThrough(t *testing.T) {
	p2 := NewMockProvider("anthropic", "answer")

	orch := NewOrchestrator(WithProvider(p2), WithBackoff(time.Millisecond))

	result, attempts, err := orch.Generate(context.Background(), GenerateRequest{
		Primary:   ModelRef{Provider: "missing", Model: "x"},
		Fallbacks: []ModelRef{{Provider: "anthropic", Model: "claude-sonnet-4-0"}},
		Prompt:    "hello",
	})

	assert.NoError(t, err)
	assert.Equal(t, "anthropic", result.Provider)
	assert.Len(t, attempts, 2)
}

func TestOrchestrator_HealthCheckIsolation(t *testing.T) {
	healthy := NewMockProvider("openai", "pong")
	broken := NewFailingProvider("anthropic", errors.KindAuth)

	orch := NewOrchestrator(WithProvider(healthy), WithProvider(broken))

	status := orch.HealthCheck(context.Background())

	assert.NoError(t, status["openai"])
	assert.Error(t, status["anthropic"])
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("ab"))
	assert.Equal(t, int64(3), EstimateTokens("twelve chars"))
}
